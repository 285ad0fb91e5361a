package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// streamSnapshots writes each snapshot to conn as a JSON text message until
// the peer goes away, the channel closes or ctx is done. Inbound messages are
// discarded; reading only serves to notice the close.
func streamSnapshots(ctx context.Context, conn *websocket.Conn, snapshots <-chan Snapshot, pingInterval time.Duration) error {
	peerGone := make(chan error, 1)

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				peerGone <- err
				return
			}
		}
	}()

	err := func() error {
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case snap, ok := <-snapshots:
				if !ok {
					return nil
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(snap); err != nil {
					return fmt.Errorf("failed to write snapshot: %w", err)
				}
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return fmt.Errorf("failed to write ping: %w", err)
				}
			case err := <-peerGone:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				return fmt.Errorf("failed to read message: %w", err)
			case <-ctx.Done():
				return nil
			}
		}
	}()

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	_ = conn.Close()
	wg.Wait()
	return err
}
