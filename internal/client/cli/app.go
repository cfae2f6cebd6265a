// Package cli implements the interactive cryptboard client: a REPL over a
// joined session that sends, lists, fetches and removes shared content.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/askarin/cryptboard/internal/client/cache"
	"github.com/askarin/cryptboard/internal/client/config"
	"github.com/askarin/cryptboard/internal/client/conn"
	"github.com/askarin/cryptboard/internal/client/transfer"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/cryptox"
	"github.com/askarin/cryptboard/internal/logging"
)

type App struct {
	config *config.Config
	logger logging.Logger
	crypto cryptox.Provider
	reader *bufio.Reader

	sessionID string
	key       []byte

	conn    *conn.Conn
	cache   *cache.Cache
	manager *transfer.Manager

	mu       sync.Mutex
	received map[string]transfer.Content
}

func NewApp(c *config.Config, logger logging.Logger) *App {
	return &App{
		config:   c,
		logger:   logger,
		crypto:   cryptox.ForEnvironment("client"),
		reader:   bufio.NewReader(os.Stdin),
		received: make(map[string]transfer.Content),
	}
}

// Join prompts for the session id and passphrase, derives the session key
// and fingerprint, opens the local cache and connects. The passphrase never
// leaves the process; only the fingerprint goes on the wire.
func (a *App) Join(ctx context.Context) error {
	sessionID, err := GetSimpleText(a.reader, "Session id", os.Stdout)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	passphrase, err := GetPassphrase(os.Stdout)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(passphrase)

	// The session id doubles as the key-derivation salt, so every member
	// of a session derives the same key from the same passphrase.
	a.sessionID = sessionID
	a.key = a.crypto.DeriveKey(passphrase, []byte(sessionID))
	fingerprint := a.crypto.Fingerprint(passphrase)

	dir := filepath.Join(a.config.CacheDir, sessionID)
	a.cache, err = cache.Open(dir, a.config.CacheMaxBytes)
	if err != nil {
		return err
	}

	c, joined, err := conn.Dial(ctx, conn.Config{
		URL:         a.config.ServerEndpointAddr,
		SessionID:   sessionID,
		Fingerprint: fingerprint,
		ChunkSize:   a.config.ChunkSize,
		Logger:      a.logger,
	})
	if err != nil {
		a.cache.Close()
		return err
	}
	a.conn = c

	a.manager = transfer.NewManager(transfer.Options{
		Sender:     c,
		Cache:      a.cache,
		Crypto:     a.crypto,
		Key:        a.key,
		ChunkSize:  joined.ChunkSize,
		Logger:     a.logger,
		MaxRetries: a.config.MaxRetries,
		RetryBase:  a.config.RetryBase,
		RetryMax:   a.config.RetryMax,
		OnContent:  a.onContent,
		OnRemoved:  a.onRemoved,
		OnCleared:  a.onCleared,
	})

	go a.manager.Run(ctx, c.Events())

	// Existing session content arrives with the join handshake; fetch
	// whatever the cache does not already hold.
	a.manager.Sync(ctx, joined.Contents)
	fmt.Printf("Joined session %s (%d item(s))\n", sessionID, len(joined.Contents))
	return nil
}

func (a *App) onContent(c transfer.Content) {
	a.mu.Lock()
	a.received[c.ID] = c
	a.mu.Unlock()
	fmt.Printf("\nReceived %q (%d bytes), id %s\n> ", c.Name, len(c.Data), c.ID)
}

func (a *App) onRemoved(contentID string) {
	a.mu.Lock()
	delete(a.received, contentID)
	a.mu.Unlock()
}

func (a *App) onCleared() {
	a.mu.Lock()
	a.received = make(map[string]transfer.Content)
	a.mu.Unlock()
	fmt.Print("\nSession cleared\n> ")
}

func (a *App) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	common.WipeByteArray(a.key)
}
