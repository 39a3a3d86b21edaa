package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/model"
)

func TestUserID(t *testing.T) {
	assert.NoError(t, UserID("alice"))
	assert.NoError(t, UserID("user-42@example.com"))
	assert.Error(t, UserID(""))
	assert.Error(t, UserID("has space"))
	assert.Error(t, UserID("semi;colon"))
}

func TestList(t *testing.T) {
	assert.Nil(t, List(""))
	assert.Equal(t, []string{"a", "b"}, List(" a, ,b ,"))
}

func TestInt(t *testing.T) {
	n, err := Int("limit", "", 20, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	n, err = Int("limit", "5", 20, 1, 100)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = Int("limit", "0", 20, 1, 100)
	assert.EqualError(t, err, "limit must be within [1,100]")
	_, err = Int("limit", "x", 20, 1, 100)
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	f, err := Score("minRelevance", "0.25")
	require.NoError(t, err)
	assert.Equal(t, 0.25, f)
	_, err = Score("minRelevance", "1.5")
	assert.Error(t, err)
}

func TestEnums(t *testing.T) {
	types, err := MemoryTypes([]string{"episodic", "desire"})
	require.NoError(t, err)
	assert.Equal(t, []model.MemoryType{model.MemoryEpisodic, model.MemoryDesire}, types)
	_, err = MemoryTypes([]string{"fact"})
	assert.Error(t, err)

	cats, err := Categories([]string{"goals"})
	require.NoError(t, err)
	assert.Equal(t, []model.ContextCategory{model.CategoryGoals}, cats)
	_, err = Categories([]string{"weather"})
	assert.Error(t, err)

	w, err := Window("", model.WindowToday)
	require.NoError(t, err)
	assert.Equal(t, model.WindowToday, w)
	_, err = Window("yesterday", model.WindowToday)
	assert.Error(t, err)
}

func TestMaxLen(t *testing.T) {
	s := "abcdef"
	assert.NoError(t, MaxLen("summary", nil, 3))
	assert.Error(t, MaxLen("summary", &s, 3))
}
