package traffic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpdriver/pkg/domain"
)

func TestHeaderCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("Content-Type", "application/json")

	assert.Equal(t, "application/json", h.Get("content-type"))
	assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("Content-type"))

	h.Del("CONTENT-TYPE")
	assert.False(t, h.Has("content-type"))
}

func TestHeaderMergeOverrides(t *testing.T) {
	h := make(Header)
	h.Set("accept", "text/html")
	h.Set("x-keep", "1")

	h.Merge(map[string]string{"Accept": "application/json", "X-New": "2"})

	assert.Equal(t, "application/json", h.Get("accept"))
	assert.Equal(t, "1", h.Get("x-keep"))
	assert.Equal(t, "2", h.Get("x-new"))
}

func TestHeaderCloneIndependent(t *testing.T) {
	h := make(Header)
	h.Set("a", "1")
	c := h.Clone()
	c.Set("a", "2")

	assert.Equal(t, "1", h.Get("a"))
	assert.Equal(t, "2", c.Get("a"))
}

func TestMarkOutcomeExactlyOnce(t *testing.T) {
	r := NewRequest()
	require.Equal(t, OutcomePending, r.Outcome())

	require.NoError(t, r.MarkOutcome(OutcomeContinued))
	assert.Equal(t, OutcomeContinued, r.Outcome())

	err := r.MarkOutcome(OutcomeAborted)
	assert.ErrorIs(t, err, domain.ErrAlreadyHandled)
	assert.Equal(t, OutcomeContinued, r.Outcome())
}

func TestMarkOutcomeConcurrent(t *testing.T) {
	r := NewRequest()
	errs := make(chan error, 3)
	for _, o := range []Outcome{OutcomeContinued, OutcomeAborted, OutcomeResponded} {
		go func(o Outcome) {
			errs <- r.MarkOutcome(o)
		}(o)
	}
	var ok, dup int
	for i := 0; i < 3; i++ {
		if err := <-errs; err == nil {
			ok++
		} else {
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, dup)
}

func TestIsRedirectHop(t *testing.T) {
	first := NewRequest()
	assert.False(t, first.IsRedirectHop())

	hop := NewRequest()
	hop.RedirectChain = []*Request{first}
	assert.True(t, hop.IsRedirectHop())
}

func TestSetResponseBackref(t *testing.T) {
	r := NewRequest()
	res := NewResponse()
	res.StatusCode = 204
	r.SetResponse(res)

	got := r.Response()
	require.NotNil(t, got)
	assert.Equal(t, 204, got.StatusCode)
	assert.Same(t, r, got.Request)
}

func TestResponseOk(t *testing.T) {
	assert.True(t, (&Response{StatusCode: 200}).Ok())
	assert.True(t, (&Response{StatusCode: 299}).Ok())
	assert.True(t, (&Response{}).Ok())
	assert.False(t, (&Response{StatusCode: 302}).Ok())
	assert.False(t, (&Response{StatusCode: 404}).Ok())
}

func TestContinueOverridesEmpty(t *testing.T) {
	var o *ContinueOverrides
	assert.True(t, o.Empty())
	assert.True(t, (&ContinueOverrides{}).Empty())

	u := "https://example.com"
	assert.False(t, (&ContinueOverrides{URL: &u}).Empty())
	assert.False(t, (&ContinueOverrides{Headers: map[string]string{"a": "1"}}).Empty())
}
