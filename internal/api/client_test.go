package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/units61/MatchTalkV2-sub000/internal/room"
)

func TestGetRoom(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/rooms/room-1", r.URL.Path)
		req.Equal("Bearer tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(room.Session{
			ID:          "room-1",
			Name:        "late night talk",
			TimeLeftSec: 120,
			Participants: []room.Participant{
				{ID: "p1", Role: room.RoleSpeaker},
				{ID: "p2", Role: room.RoleListener},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	s, err := c.GetRoom(context.Background(), "room-1")
	req.NoError(err)
	req.Equal("room-1", s.ID)
	req.Equal(120, s.TimeLeftSec)
	req.Len(s.Participants, 2)
}

func TestGetRoomNotFound(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetRoom(context.Background(), "gone")
	req.ErrorIs(err, ErrRoomNotFound)
}

func TestGetRoomServerError(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetRoom(context.Background(), "room-1")
	req.Error(err)
	req.NotErrorIs(err, ErrRoomNotFound)
}

func TestGetRoomMessages(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/rooms/room-1/messages", r.URL.Path)
		json.NewEncoder(w).Encode([]room.ChatMessage{
			{ID: "m1", Content: "hello"},
			{ID: "m2", Content: "hey", Pinned: true},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	msgs, err := c.GetRoomMessages(context.Background(), "room-1")
	req.NoError(err)
	req.Len(msgs, 2)
	req.True(msgs[1].Pinned)
}
