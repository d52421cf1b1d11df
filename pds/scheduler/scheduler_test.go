package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/public-discourse-sandbox/pds/discourse"
)

type StubSource struct {
	tenants    []string
	personas   map[string][]discourse.Persona
	tenantsErr error
	listed     []string
}

func (s *StubSource) ListTenants(ctx context.Context) ([]string, error) {
	return s.tenants, s.tenantsErr
}

func (s *StubSource) ListActivePersonas(ctx context.Context, tenantID string) ([]discourse.Persona, error) {
	s.listed = append(s.listed, tenantID)
	return s.personas[tenantID], nil
}

type StubPoster struct {
	createFunc func(ctx context.Context, persona discourse.Persona, force bool) (string, error)
	calls      []discourse.Persona
	forced     []bool
}

func (p *StubPoster) CreateOriginalPost(ctx context.Context, persona discourse.Persona, force bool) (string, error) {
	p.calls = append(p.calls, persona)
	p.forced = append(p.forced, force)
	if p.createFunc != nil {
		return p.createFunc(ctx, persona, force)
	}
	return "post-" + persona.Username, nil
}

// lastPicker always picks the last candidate.
type lastPicker struct{ seen []int }

func (l *lastPicker) IntN(n int) int {
	l.seen = append(l.seen, n)
	return n - 1
}

func newSource() *StubSource {
	return &StubSource{
		tenants: []string{"lab", "public"},
		personas: map[string][]discourse.Persona{
			"public": {{ID: "p1", Username: "Amy", TenantID: "public"}, {ID: "p2", Username: "Zed", TenantID: "public"}},
			"lab":    {{ID: "p3", Username: "Rat", TenantID: "lab"}},
		},
	}
}

func TestRunOnce_SingleTenant(t *testing.T) {
	source := newSource()
	poster := &StubPoster{}
	picker := &lastPicker{}
	s := NewScheduler(source, poster, picker, Options{TenantID: "public", Force: true}, zerolog.Nop())

	id, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "post-Zed", id)
	assert.Equal(t, []string{"public"}, source.listed)
	assert.Equal(t, []int{2}, picker.seen)
	assert.Equal(t, []bool{true}, poster.forced)
}

func TestRunOnce_AllTenants(t *testing.T) {
	source := newSource()
	picker := &lastPicker{}
	s := NewScheduler(source, &StubPoster{}, picker, Options{}, zerolog.Nop())

	id, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "post-Zed", id)
	assert.Equal(t, []string{"lab", "public"}, source.listed)
	assert.Equal(t, []int{3}, picker.seen, "candidates from every tenant")
}

func TestRunOnce_NoPersonas(t *testing.T) {
	poster := &StubPoster{}
	s := NewScheduler(newSource(), poster, &lastPicker{}, Options{TenantID: "empty"}, zerolog.Nop())

	id, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Empty(t, poster.calls)
}

func TestRunOnce_Errors(t *testing.T) {
	source := newSource()
	source.tenantsErr = errors.New("db down")
	s := NewScheduler(source, &StubPoster{}, &lastPicker{}, Options{}, zerolog.Nop())
	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, source.tenantsErr)

	boom := errors.New("exhausted")
	poster := &StubPoster{createFunc: func(context.Context, discourse.Persona, bool) (string, error) { return "", boom }}
	s = NewScheduler(newSource(), poster, &lastPicker{}, Options{TenantID: "public"}, zerolog.Nop())
	_, err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRunOnce_PersonaSkips(t *testing.T) {
	poster := &StubPoster{createFunc: func(context.Context, discourse.Persona, bool) (string, error) { return "", nil }}
	s := NewScheduler(newSource(), poster, &lastPicker{}, Options{TenantID: "public"}, zerolog.Nop())

	id, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Len(t, poster.calls, 1)
}

func TestSchedule(t *testing.T) {
	s := NewScheduler(newSource(), &StubPoster{}, &lastPicker{}, Options{}, zerolog.Nop())

	assert.Error(t, s.Schedule(context.Background(), "every now and then"))
	require.NoError(t, s.Schedule(context.Background(), "@every 1h"))

	s.Start()
	s.Stop()
}
