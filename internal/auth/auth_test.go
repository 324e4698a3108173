package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journi/jobwatch/internal/logging"
)

func TestStatic(t *testing.T) {
	tok, err := Static("abc").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = Static("").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestEnv(t *testing.T) {
	t.Setenv("JOBWATCH_TEST_TOKEN", "  from-env \n")
	tok, err := Env("JOBWATCH_TEST_TOKEN").Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)

	_, err = Env("JOBWATCH_TEST_TOKEN_UNSET").Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestParseBearer(t *testing.T) {
	tok, ok := ParseBearer("Bearer secret")
	assert.True(t, ok)
	assert.Equal(t, "secret", tok)

	tok, ok = ParseBearer("bearer secret")
	assert.True(t, ok)
	assert.Equal(t, "secret", tok)

	_, ok = ParseBearer("Basic abc")
	assert.False(t, ok)
	_, ok = ParseBearer("Bearer ")
	assert.False(t, ok)
	_, ok = ParseBearer("")
	assert.False(t, ok)

	assert.Equal(t, "Bearer xyz", BearerHeader("xyz"))
}

func TestTokenMatches(t *testing.T) {
	assert.True(t, TokenMatches("a", "a"))
	assert.False(t, TokenMatches("a", "b"))
	assert.False(t, TokenMatches("", "b"))
}

func TestFileToken_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("first\n"), 0600))

	provider, err := NewFileToken(path, logging.NewTest(t))
	require.NoError(t, err)
	defer provider.Close()

	tok, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", tok)

	require.NoError(t, os.WriteFile(path, []byte("second"), 0600))
	assert.Eventually(t, func() bool {
		tok, _ := provider.Token(context.Background())
		return tok == "second"
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, provider.Close())
	assert.NoError(t, provider.Close(), "Close should be idempotent")
}

func TestFileToken_MissingFile(t *testing.T) {
	_, err := NewFileToken(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestFileToken_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	provider, err := NewFileToken(path, nil)
	require.NoError(t, err)
	defer provider.Close()

	_, err = provider.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}
