package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectID_OrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{"u1", "u2"},
		{"zed", "alice"},
		{"42", "7"},
		{"coach-9", "coach-10"},
	}

	for _, p := range pairs {
		ab, err := Generate(KindDirect, p[0], p[1])
		require.NoError(t, err)
		ba, err := Generate(KindDirect, p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
	}
}

func TestDirectID_LexicographicSort(t *testing.T) {
	// "10" sorts before "9" lexicographically.
	assert.Equal(t, "dm:10:9", DirectID("9", "10"))
	assert.Equal(t, "dm:a:b:c", DirectID("c", "a", "b"))
}

func TestBatchID_Stable(t *testing.T) {
	first, err := Generate(KindBatch, "42")
	require.NoError(t, err)
	again, err := Generate(KindBatch, "42")
	require.NoError(t, err)

	assert.Equal(t, "batch:42", first)
	assert.Equal(t, first, again)
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		ids  []string
	}{
		{name: "batch without id", kind: KindBatch},
		{name: "batch with two ids", kind: KindBatch, ids: []string{"1", "2"}},
		{name: "dm with one participant", kind: KindDirect, ids: []string{"u1"}},
		{name: "empty component", kind: KindDirect, ids: []string{"u1", ""}},
		{name: "separator in component", kind: KindBatch, ids: []string{"4:2"}},
		{name: "unknown kind", kind: Kind("group"), ids: []string{"1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Generate(tt.kind, tt.ids...)
			assert.ErrorIs(t, err, ErrInvalidRoomID)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		want    ID
		wantErr error
	}{
		{name: "batch", roomID: "batch:42", want: ID{Kind: KindBatch, BatchID: "42"}},
		{name: "dm", roomID: "dm:u1:u2", want: ID{Kind: KindDirect, Participants: []string{"u1", "u2"}}},
		{name: "group dm", roomID: "dm:a:b:c", want: ID{Kind: KindDirect, Participants: []string{"a", "b", "c"}}},
		{name: "unsorted dm", roomID: "dm:u2:u1", wantErr: ErrNonCanonical},
		{name: "no kind", roomID: "general", wantErr: ErrInvalidRoomID},
		{name: "empty batch", roomID: "batch:", wantErr: ErrInvalidRoomID},
		{name: "batch with colon", roomID: "batch:4:2", wantErr: ErrInvalidRoomID},
		{name: "dm single", roomID: "dm:u1", wantErr: ErrInvalidRoomID},
		{name: "dm empty part", roomID: "dm:u1::u2", wantErr: ErrInvalidRoomID},
		{name: "unknown kind", roomID: "group:1", wantErr: ErrInvalidRoomID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.roomID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.roomID, got.String())
		})
	}
}

func TestHasParticipant(t *testing.T) {
	id, err := Parse(DirectID("coach1", "student7"))
	require.NoError(t, err)

	assert.True(t, id.HasParticipant("coach1"))
	assert.True(t, id.HasParticipant("student7"))
	assert.False(t, id.HasParticipant("student8"))

	batch, err := Parse("batch:student7")
	require.NoError(t, err)
	assert.False(t, batch.HasParticipant("student7"))
}
