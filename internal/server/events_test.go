package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func dialEvents(t *testing.T, f *apiFixture) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var event Event
	require.NoError(t, wsjson.Read(ctx, conn, &event))
	return event
}

func TestEventsSendInitialSnapshot(t *testing.T) {
	f := newAPIFixture(t)
	f.open()

	conn := dialEvents(t, f)
	event := readEvent(t, conn)
	require.Equal(t, "state", event.Type)
	require.NotNil(t, event.State)
	require.Equal(t, "/manga/vol1", event.State.Folder)
	require.Equal(t, "001.png", event.State.CurrentImage)
}

func TestEventsFollowNavigation(t *testing.T) {
	f := newAPIFixture(t)
	f.open()

	conn := dialEvents(t, f)
	readEvent(t, conn)

	f.expect.POST("/api/pages/next").Expect().Status(200)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		event := readEvent(t, conn)
		if event.State.CurrentIndex == 1 {
			require.Equal(t, "002.png", event.State.CurrentImage)
			return
		}
	}
	t.Fatalf("no event reported the navigation")
}

func TestEventsCloseEndsStreams(t *testing.T) {
	f := newAPIFixture(t)
	conn := dialEvents(t, f)
	readEvent(t, conn)

	require.Eventually(t, func() bool { return f.events.Clients() == 1 }, time.Second, 10*time.Millisecond)
	f.events.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return f.events.Clients() == 0 }, time.Second, 10*time.Millisecond)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/events"
	late, _, err := websocket.Dial(ctx2, url, nil)
	require.NoError(t, err)
	_, _, err = late.Read(ctx2)
	require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
