package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/askarin/cryptboard/internal/chunker"
	"github.com/askarin/cryptboard/internal/client/cache"
	"github.com/askarin/cryptboard/internal/common"
	"github.com/askarin/cryptboard/internal/cryptox"
	"github.com/askarin/cryptboard/internal/logging"
	"github.com/askarin/cryptboard/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSender records outbound messages; optionally it plays the
// server's role through the events channel, answering chunks with their
// acknowledgements and request-chunk messages with served chunk data.
type captureSender struct {
	mu      sync.Mutex
	msgs    []protocol.Message
	ackInto chan protocol.Message
	serve   map[string]servedContent
}

type servedContent struct {
	meta   protocol.ContentMeta
	chunks []chunker.Chunk
}

// serveContent makes the fake server answer request-chunk messages for
// this content id.
func (f *captureSender) serveContent(meta protocol.ContentMeta, chunks []chunker.Chunk) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serve == nil {
		f.serve = make(map[string]servedContent)
	}
	f.serve[meta.ContentID] = servedContent{meta: meta, chunks: chunks}
}

func (f *captureSender) Send(msg protocol.Message) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msg)
	f.mu.Unlock()

	if f.ackInto == nil {
		return nil
	}

	switch msg.Type {
	case protocol.TypeChunk:
		var p protocol.ChunkPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		ack, err := protocol.New(protocol.TypeChunkAck, protocol.ChunkAckPayload{ContentID: p.ContentID, Index: p.Index})
		if err != nil {
			return err
		}
		f.ackInto <- ack

	case protocol.TypeRequestChunk:
		var p protocol.RequestChunkPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		f.mu.Lock()
		sc, ok := f.serve[p.ContentID]
		f.mu.Unlock()
		if !ok || p.Index < 0 || p.Index >= len(sc.chunks) {
			return nil
		}
		reply, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
			ContentID:   p.ContentID,
			Index:       p.Index,
			Data:        sc.chunks[p.Index].Data,
			TotalChunks: sc.meta.TotalChunks,
			TotalSize:   sc.meta.TotalSize,
			ContentType: sc.meta.ContentType,
			Name:        sc.meta.Name,
			IV:          sc.meta.IV,
		})
		if err != nil {
			return err
		}
		f.ackInto <- reply
	}
	return nil
}

func (f *captureSender) byType(msgType string) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.msgs {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

var testKey = bytes.Repeat([]byte{0x11}, cryptox.KeySize)
var testIV = bytes.Repeat([]byte{0x22}, cryptox.IVSize)

type managerFixture struct {
	m       *Manager
	sender  *captureSender
	cache   *cache.Cache
	crypto  cryptox.Provider
	events  chan protocol.Message
	mu      sync.Mutex
	content []Content
	removed []string
	cleared int
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()

	c, err := cache.Open(t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	f := &managerFixture{
		sender: &captureSender{},
		cache:  c,
		crypto: cryptox.NewStdProvider(),
		events: make(chan protocol.Message, 64),
	}
	f.sender.ackInto = f.events

	f.m = NewManager(Options{
		Sender:     f.sender,
		Cache:      c,
		Crypto:     f.crypto,
		Key:        testKey,
		ChunkSize:  4,
		Logger:     logging.Discard(),
		MaxRetries: 2,
		RetryBase:  100 * time.Millisecond,
		RetryMax:   400 * time.Millisecond,
		OnContent: func(c Content) {
			f.mu.Lock()
			f.content = append(f.content, c)
			f.mu.Unlock()
		},
		OnRemoved: func(id string) {
			f.mu.Lock()
			f.removed = append(f.removed, id)
			f.mu.Unlock()
		},
		OnCleared: func() {
			f.mu.Lock()
			f.cleared++
			f.mu.Unlock()
		},
	})
	return f
}

func (f *managerFixture) run(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go f.m.Run(ctx, f.events)
	t.Cleanup(cancel)
	return cancel
}

func waitState(t *testing.T, m *Manager, contentID string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		r, ok := m.Record(contentID)
		return ok && r.State() == want
	}, 2*time.Second, 5*time.Millisecond, "content %s never reached %s", contentID, want)
}

// encryptedChunks produces the ciphertext chunks and announcement a real
// uploader would have put on the wire.
func encryptedChunks(t *testing.T, plaintext []byte) ([]chunker.Chunk, protocol.ContentMeta) {
	t.Helper()
	ciphertext, err := cryptox.NewStdProvider().Encrypt(testKey, testIV, plaintext)
	require.NoError(t, err)
	chunks, err := chunker.Split(ciphertext, 4)
	require.NoError(t, err)
	return chunks, protocol.ContentMeta{
		ContentID:   "dl1",
		ContentType: "text/plain",
		Name:        "note",
		TotalChunks: len(chunks),
		TotalSize:   int64(len(ciphertext)),
		IV:          testIV,
	}
}

func TestUpload_CompletesOnAcks(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	id, err := f.m.Upload(context.Background(), "note", "text/plain", []byte("hello chunked world"))
	require.NoError(t, err)

	waitState(t, f.m, id, StateComplete)

	rec, ok := f.m.Record(id)
	require.True(t, ok)
	done, total := rec.Progress()
	assert.Equal(t, total, done)
	assert.Equal(t, DirectionUpload, rec.Direction)

	// every chunk went out exactly once
	assert.Len(t, f.sender.byType(protocol.TypeChunk), total)
}

func TestUpload_FailsWithoutAcks(t *testing.T) {
	f := newFixture(t)
	f.sender.ackInto = nil // the server never answers
	f.run(t)

	id, err := f.m.Upload(context.Background(), "note", "text/plain", []byte("payload"))
	require.NoError(t, err)

	waitState(t, f.m, id, StateFailed)

	rec, _ := f.m.Record(id)
	assert.ErrorContains(t, rec.Err(), "no acknowledgement")

	// initial send plus MaxRetries resends of chunk 0
	assert.Len(t, f.sender.byType(protocol.TypeChunk), 3)
}

func TestUpload_Cancel(t *testing.T) {
	f := newFixture(t)
	f.sender.ackInto = nil
	f.run(t)

	id, err := f.m.Upload(context.Background(), "note", "text/plain", []byte("payload"))
	require.NoError(t, err)

	f.m.Cancel(id)
	waitState(t, f.m, id, StateCancelled)
}

func TestDownload_RequestsMissingAndDecrypts(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	plaintext := []byte("the secret clipboard payload")
	chunks, meta := encryptedChunks(t, plaintext)
	f.sender.serveContent(meta, chunks)

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	waitState(t, f.m, meta.ContentID, StateComplete)

	// every index was requested exactly once
	assert.Len(t, f.sender.byType(protocol.TypeRequestChunk), len(chunks))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.content, 1)
	assert.Equal(t, plaintext, f.content[0].Data)
	assert.Equal(t, "note", f.content[0].Name)
}

func TestDownload_ResumesFromCache(t *testing.T) {
	f := newFixture(t)

	plaintext := []byte("partially cached content here")
	chunks, meta := encryptedChunks(t, plaintext)
	require.True(t, len(chunks) >= 3)
	f.sender.serveContent(meta, chunks)

	// chunk 0 survived a previous attempt
	require.NoError(t, f.cache.PutChunk(meta.ContentID, 0, meta.TotalChunks, chunks[0].Data))

	f.run(t)
	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	waitState(t, f.m, meta.ContentID, StateComplete)

	var indices []int
	for _, msg := range f.sender.byType(protocol.TypeRequestChunk) {
		var p protocol.RequestChunkPayload
		require.NoError(t, json.Unmarshal(msg.Payload, &p))
		indices = append(indices, p.Index)
	}
	assert.Len(t, indices, len(chunks)-1)
	assert.NotContains(t, indices, 0)
}

func TestDownload_FailsWhenChunksNeverArrive(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	_, meta := encryptedChunks(t, []byte("nobody answers"))

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	waitState(t, f.m, meta.ContentID, StateFailed)

	rec, _ := f.m.Record(meta.ContentID)
	assert.ErrorContains(t, rec.Err(), "no data")

	// initial request plus MaxRetries re-requests of index 0
	assert.Len(t, f.sender.byType(protocol.TypeRequestChunk), 3)
}

func TestDownload_ReannounceRestartsFailedDownload(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	plaintext := []byte("second time lucky")
	chunks, meta := encryptedChunks(t, plaintext)

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce
	waitState(t, f.m, meta.ContentID, StateFailed)

	// the peer comes back and announces again, this time answering requests
	f.sender.serveContent(meta, chunks)
	announce, err = protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	waitState(t, f.m, meta.ContentID, StateComplete)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.content, 1)
	assert.Equal(t, plaintext, f.content[0].Data)
}

func TestDownload_IgnoresOutOfRangeChunk(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	plaintext := []byte("bounded by the announcement")
	chunks, meta := encryptedChunks(t, plaintext)

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	// indices past the announced total must not reach the cache
	for _, idx := range []int{meta.TotalChunks, -1} {
		msg, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
			ContentID:   meta.ContentID,
			Index:       idx,
			Data:        []byte("junk"),
			TotalChunks: meta.TotalChunks,
			TotalSize:   meta.TotalSize,
			IV:          meta.IV,
		})
		require.NoError(t, err)
		f.events <- msg
	}

	f.sender.serveContent(meta, chunks)
	announce, err = protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	waitState(t, f.m, meta.ContentID, StateComplete)

	// the rogue indices never landed in the cache
	for _, idx := range []int{meta.TotalChunks, -1} {
		_, err := f.cache.GetChunk(meta.ContentID, idx)
		assert.ErrorIs(t, err, common.ErrNotFound)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.content, 1)
	assert.Equal(t, plaintext, f.content[0].Data)
}

func TestDownload_TamperedChunkFails(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	chunks, meta := encryptedChunks(t, []byte("payload to be corrupted"))

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce

	for _, ch := range chunks {
		data := ch.Data
		if ch.Index == 0 {
			data = append([]byte(nil), data...)
			data[0] ^= 0xff
		}
		msg, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
			ContentID:   meta.ContentID,
			Index:       ch.Index,
			Data:        data,
			TotalChunks: meta.TotalChunks,
			TotalSize:   meta.TotalSize,
			IV:          meta.IV,
		})
		require.NoError(t, err)
		f.events <- msg
	}

	waitState(t, f.m, meta.ContentID, StateFailed)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.content)
}

func TestContentRemoved_DropsRecordAndCache(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	plaintext := []byte("soon to be removed")
	chunks, meta := encryptedChunks(t, plaintext)

	announce, err := protocol.New(protocol.TypeContentAvailable, meta)
	require.NoError(t, err)
	f.events <- announce
	for _, ch := range chunks {
		msg, err := protocol.New(protocol.TypeChunk, protocol.ChunkPayload{
			ContentID: meta.ContentID, Index: ch.Index, Data: ch.Data,
			TotalChunks: meta.TotalChunks, TotalSize: meta.TotalSize, IV: meta.IV,
		})
		require.NoError(t, err)
		f.events <- msg
	}
	waitState(t, f.m, meta.ContentID, StateComplete)

	removed, err := protocol.New(protocol.TypeContentRemoved, protocol.ContentRemovedPayload{ContentID: meta.ContentID})
	require.NoError(t, err)
	f.events <- removed

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.removed) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, ok := f.m.Record(meta.ContentID)
	assert.False(t, ok)

	missing, err := f.cache.MissingIndices(meta.ContentID, meta.TotalChunks)
	require.NoError(t, err)
	assert.Len(t, missing, meta.TotalChunks)
}

func TestSessionCleared_DropsEverything(t *testing.T) {
	f := newFixture(t)
	f.run(t)

	id, err := f.m.Upload(context.Background(), "note", "text/plain", []byte("hello"))
	require.NoError(t, err)
	waitState(t, f.m, id, StateComplete)

	cleared, err := protocol.New(protocol.TypeSessionCleared, protocol.SessionClearedPayload{SessionID: "s1"})
	require.NoError(t, err)
	f.events <- cleared

	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.cleared == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, f.m.Records())
}

func TestRecord_TerminalStatesAreSticky(t *testing.T) {
	r := newRecord("c1", DirectionUpload, "n", "t", 3, 10)

	r.markActive()
	assert.Equal(t, StateActive, r.State())

	r.complete()
	assert.Equal(t, StateComplete, r.State())

	// later transitions cannot undo a terminal state
	r.fail(assert.AnError)
	assert.Equal(t, StateComplete, r.State())
	r.Cancel()
	assert.Equal(t, StateComplete, r.State())
}

func TestDelete_SendsRequest(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.m.Delete("c1"))
	require.NoError(t, f.m.Rename("c1", "new-name"))
	require.NoError(t, f.m.Clear())

	assert.Len(t, f.sender.byType(protocol.TypeDeleteContent), 1)
	assert.Len(t, f.sender.byType(protocol.TypeRenameContent), 1)
	assert.Len(t, f.sender.byType(protocol.TypeClearAll), 1)
}
