package assets

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/bundlebridge/internal/options"
)

var testRules = []Rule{
	{Type: ChunkTypeImage, Include: []string{"**/*.png", "**/*.jpg", "*.svg"}, Exclude: []string{"**/icons/**"}},
	{Type: ChunkTypeFont, Include: []string{"**/*.woff", "**/*.woff2"}},
	{Type: "fbAx", Include: []string{"**/*.png"}},
}

func TestFilter(t *testing.T) {
	f, err := NewFilter([]string{"*.png", "/abs/**/*.jpg"}, []string{"**/vendor/**"})
	require.NoError(t, err)

	tests := []struct {
		path string
		want bool
	}{
		{"/src/img/logo.png", true},
		{"logo.png", true},
		{"/abs/deep/photo.jpg", true},
		{"/other/photo.jpg", false},
		{"/src/vendor/logo.png", false},
		{"/src/app.js", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.path))
		})
	}
}

func TestFilter_EmptyIncludeAcceptsAll(t *testing.T) {
	f, err := NewFilter(nil, []string{"**/*.js"})
	require.NoError(t, err)

	assert.True(t, f.Match("/a/b.png"))
	assert.False(t, f.Match("/a/b.js"))
}

func TestFilter_InvalidPattern(t *testing.T) {
	_, err := NewFilter([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestNew_Disabled(t *testing.T) {
	i, err := New(nil, nil)

	require.NoError(t, err)
	assert.Nil(t, i)
	assert.False(t, i.Enabled())

	_, ok, err := i.Intercept(context.Background(), "/src/logo.png")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, i.Intercepted())
}

func TestNew_NoRulesIsInert(t *testing.T) {
	i, err := New(&Options{}, nil)

	require.NoError(t, err)
	require.NotNil(t, i)
	assert.False(t, i.Enabled())
	_, ok, err := i.Intercept(context.Background(), "/src/logo.png")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestNew_NoRulesWithInvalidStoreDoesNotFail(t *testing.T) {
	i, err := New(&Options{Store: 42}, nil)

	require.NoError(t, err)
	assert.False(t, i.Enabled())
}

func TestNew_StoreShapes(t *testing.T) {
	ctx := context.Background()

	t.Run("record list pointer", func(t *testing.T) {
		var list []Record
		i, err := New(&Options{Types: testRules, Store: &list}, nil)
		require.NoError(t, err)

		i.Intercept(ctx, "/src/logo.png")
		assert.Equal(t, []Record{{ChunkType: ChunkTypeImage, Path: "/src/logo.png"}}, list)
	})

	t.Run("function", func(t *testing.T) {
		var got []Record
		i, err := New(&Options{Types: testRules, Store: func(rec Record) { got = append(got, rec) }}, nil)
		require.NoError(t, err)

		i.Intercept(ctx, "/src/font.woff2")
		assert.Equal(t, []Record{{ChunkType: ChunkTypeFont, Path: "/src/font.woff2"}}, got)
	})

	t.Run("memory store", func(t *testing.T) {
		sink := NewMemoryStore()
		i, err := New(&Options{Types: testRules, Store: sink}, nil)
		require.NoError(t, err)

		rec, ok, err := i.Intercept(ctx, "/src/logo.png")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, ChunkTypeImage, rec.ChunkType)
		assert.Equal(t, 1, sink.Len())
	})

	t.Run("deploy manager wins over store", func(t *testing.T) {
		var list []Record
		manager := NewMemoryStore()
		i, err := New(&Options{Types: testRules, Store: &list}, manager)
		require.NoError(t, err)

		i.Intercept(ctx, "/src/logo.png")
		assert.Empty(t, list)
		assert.Equal(t, 1, manager.Len())
	})

	t.Run("manager without options", func(t *testing.T) {
		i, err := New(nil, NewMemoryStore())
		require.NoError(t, err)
		require.NotNil(t, i)
		assert.False(t, i.Enabled())
	})
}

func TestNew_InvalidStore(t *testing.T) {
	var nilList *[]Record
	tests := []struct {
		name  string
		store any
	}{
		{"missing", nil},
		{"list by value", []Record{}},
		{"nil list pointer", nilList},
		{"wrong type", "records"},
		{"map", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&Options{Types: testRules, Store: tt.store}, nil)
			require.Error(t, err)

			var cfgErr *options.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, options.KeyBinaryAssets, cfgErr.Key)
		})
	}
}

func TestNew_InvalidRule(t *testing.T) {
	store := NewMemoryStore()

	_, err := New(&Options{Types: []Rule{{Include: []string{"*.png"}}}, Store: store}, nil)
	assert.Error(t, err)

	_, err = New(&Options{Types: []Rule{{Type: ChunkTypeImage, Include: []string{"[bad"}}}, Store: store}, nil)
	assert.Error(t, err)
}

func TestInterceptor_FirstMatchingRuleWins(t *testing.T) {
	store := NewMemoryStore()
	i, err := New(&Options{Types: testRules, Store: store}, nil)
	require.NoError(t, err)

	tests := []struct {
		path     string
		want     ChunkType
		matching bool
	}{
		{"/src/logo.png", ChunkTypeImage, true},
		{"/src/photo.jpg", ChunkTypeImage, true},
		{"/src/draw.svg", ChunkTypeImage, true},
		{"/src/icons/logo.png", "fbAx", true},
		{"/src/fonts/body.woff", ChunkTypeFont, true},
		{"/src/app.js", "", false},
		{"/src/icons/app.jpg", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := i.Classify(tt.path)
			assert.Equal(t, tt.matching, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInterceptor_RegistersEachPathOnce(t *testing.T) {
	store := NewMemoryStore()
	i, err := New(&Options{Types: testRules, Store: store}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.Intercept(context.Background(), "/src/logo.png")
			i.Intercept(context.Background(), "/src/font.woff")
		}()
	}
	wg.Wait()

	assert.Equal(t, []Record{
		{ChunkType: ChunkTypeFont, Path: "/src/font.woff"},
		{ChunkType: ChunkTypeImage, Path: "/src/logo.png"},
	}, store.Records())
	assert.Equal(t, []string{"/src/font.woff", "/src/logo.png"}, i.Intercepted())
}

func TestDecode(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		opts, err := Decode(nil)
		require.NoError(t, err)
		assert.Nil(t, opts)
	})

	t.Run("map", func(t *testing.T) {
		store := NewMemoryStore()
		opts, err := Decode(map[string]any{
			"types": []any{
				map[string]any{"type": "fbAi", "include": []any{"**/*.png"}},
			},
			"store": store,
		})
		require.NoError(t, err)
		require.Len(t, opts.Types, 1)
		assert.Equal(t, ChunkTypeImage, opts.Types[0].Type)
		assert.Equal(t, []string{"**/*.png"}, opts.Types[0].Include)
		assert.Same(t, store, opts.Store)
	})

	t.Run("struct value", func(t *testing.T) {
		opts, err := Decode(Options{Types: testRules})
		require.NoError(t, err)
		assert.Len(t, opts.Types, 3)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Decode("fbAi")
		var cfgErr *options.ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})
}

type failingSink struct {
	calls int
	err   error
}

func (s *failingSink) Add(_ context.Context, _ Record) error {
	s.calls++
	return s.err
}

func TestInterceptor_SinkFailure(t *testing.T) {
	offline := errors.New("registry offline")
	sink := &failingSink{err: offline}
	i, err := New(&Options{Types: testRules, Store: sink}, nil)
	require.NoError(t, err)

	rec, ok, err := i.Intercept(context.Background(), "/src/logo.png")
	require.Error(t, err)
	assert.True(t, ok)
	assert.ErrorIs(t, err, offline)

	var regErr *RegistrationError
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, rec, regErr.Record)
	assert.Empty(t, i.Intercepted())

	// The path was not kept, so the next attempt reaches the sink again
	sink.err = nil
	_, _, err = i.Intercept(context.Background(), "/src/logo.png")
	require.NoError(t, err)
	assert.Equal(t, 2, sink.calls)
	assert.Equal(t, []string{"/src/logo.png"}, i.Intercepted())
}

func TestInterceptor_Records(t *testing.T) {
	var nilInterceptor *Interceptor
	assert.Nil(t, nilInterceptor.Records())

	i, err := New(&Options{Types: testRules, Store: NewMemoryStore()}, nil)
	require.NoError(t, err)
	i.Intercept(context.Background(), "/b/font.woff2")
	i.Intercept(context.Background(), "/a/logo.png")
	i.Intercept(context.Background(), "/a/app.js")

	assert.Equal(t, []Record{
		{ChunkType: ChunkTypeImage, Path: "/a/logo.png"},
		{ChunkType: ChunkTypeFont, Path: "/b/font.woff2"},
	}, i.Records())
}
