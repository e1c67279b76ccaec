package serializer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Score  int       `json:"score"`
	Level  string    `json:"risk_level"`
	Tags   []string  `json:"tags,omitempty"`
	At     time.Time `json:"at"`
	Nested *payload  `json:"nested,omitempty"`
}

func TestSerializers(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := payload{Score: 712, Level: "LOW", Tags: []string{"a"}, At: at, Nested: &payload{Score: 1}}

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			s, err := New(name)
			require.NoError(t, err)
			assert.Equal(t, name, s.Name())

			data, err := s.Marshal(in)
			require.NoError(t, err)

			var out payload
			require.NoError(t, s.Unmarshal(data, &out))
			assert.Equal(t, in.Score, out.Score)
			assert.Equal(t, in.Level, out.Level)
			assert.Equal(t, in.Tags, out.Tags)
			assert.True(t, in.At.Equal(out.At))
			require.NotNil(t, out.Nested)
			assert.Equal(t, 1, out.Nested.Score)
		})
	}

	t.Run("默认为 json", func(t *testing.T) {
		s, err := New("")
		require.NoError(t, err)
		assert.Equal(t, "json", s.Name())
	})

	t.Run("未知类型", func(t *testing.T) {
		_, err := New("gob")
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}
