package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	parsed, err := ParseKind("GitLab")
	require.NoError(t, err)
	assert.Equal(t, KindGitLab, parsed)

	_, err = ParseKind("sourceforge")
	assert.Error(t, err)
}

func TestKind_TextRoundTrip(t *testing.T) {
	text, err := KindBeanstalk.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "beanstalk", string(text))

	var k Kind
	require.NoError(t, k.UnmarshalText(text))
	assert.Equal(t, KindBeanstalk, k)

	_, err = Kind(42).MarshalText()
	assert.Error(t, err)
}

func TestTLSSetting_Active(t *testing.T) {
	assert.False(t, TLSSetting{Value: "client.p12"}.Active())
	assert.False(t, TLSSetting{Enabled: true}.Active())
	assert.True(t, TLSSetting{Value: "client.p12", Enabled: true}.Active())
}

func TestProgress_Value(t *testing.T) {
	assert.Equal(t, -1, Progress{}.Value())
	assert.Equal(t, 0, Progress{State: ProgressStarted}.Value())
	assert.Equal(t, -1, Progress{State: ProgressFinished}.Value())
	assert.True(t, Progress{State: ProgressStarted}.IsValid())
}

func TestAccountError_IsValid(t *testing.T) {
	assert.False(t, AccountError{}.IsValid())
	err := AccountError{Kind: ErrorTransport, Text: "Connection failed", DetailedText: "dial tcp: refused"}
	assert.True(t, err.IsValid())
	assert.Equal(t, "Connection failed: dial tcp: refused", err.Error())
}

func TestCommitComments_Add(t *testing.T) {
	var cc CommitComments
	cc.Add("", 0, Comment{Body: "general"})
	cc.Add("main.go", 12, Comment{Body: "line"})
	cc.Add("main.go", 12, Comment{Body: "reply"})

	require.Len(t, cc.Comments, 1)
	require.Len(t, cc.Files["main.go"][12], 2)
	assert.Equal(t, "reply", cc.Files["main.go"][12][1].Body)
}

func TestRepository_Owner(t *testing.T) {
	repo := NewRepository("repo", "group/sub/repo")
	assert.Equal(t, "group/sub", repo.Owner())
	assert.Equal(t, "", NewRepository("solo", "solo").Owner())
}
