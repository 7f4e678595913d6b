package sanitize

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClean(t *testing.T) {
	cases := map[string]string{
		"plain":         "plain",
		"../secret":     "secret",
		"..\\..\\win":   "win",
		".hidden":       "hidden",
		"a/b/c":         "abc",
		"nul\x00byte":   "nulbyte",
		"name.with.dot": "name.with.dot",
		"...":           "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Clean(in), "Clean(%q)", in)
	}
}

func TestComponentRejectsEmpty(t *testing.T) {
	_, err := Component("project", "../..")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidIdentifier))
	var ie *IdentifierError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "project", ie.Field)
	assert.Contains(t, err.Error(), "project")
}

func TestFilenameKeepsBaseName(t *testing.T) {
	name, err := Filename("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "passwd", name)

	name, err = Filename(`C:\Users\me\report.txt`)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", name)

	_, err = Filename("dir/")
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestKeyNeverEscapesNamespace(t *testing.T) {
	inputs := []string{"../x", "/abs", `..\..`, "a/../../b", ".\x00./c"}
	for _, project := range inputs {
		for _, file := range inputs {
			key, err := Key(project, 7, file)
			if err != nil {
				continue
			}
			parts := strings.Split(key, "/")
			require.Len(t, parts, 3, "key %q", key)
			assert.Equal(t, "007", parts[1])
			for _, p := range parts {
				assert.NotEqual(t, "..", p)
				assert.False(t, strings.HasPrefix(p, "."), "segment %q of %q", p, key)
			}
		}
	}
}

func TestPrefix(t *testing.T) {
	p, err := Prefix("proj", 12)
	require.NoError(t, err)
	assert.Equal(t, "proj/012/", p)

	p, err = ProjectPrefix("../proj")
	require.NoError(t, err)
	assert.Equal(t, "proj/", p)
}
