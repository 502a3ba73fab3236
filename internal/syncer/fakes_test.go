package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"tgmirror/internal/cursor"
	"tgmirror/internal/domain"
	"tgmirror/internal/media"
	"tgmirror/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

var errNetwork = errors.New("network unreachable")

// fakeSource is an in-memory source platform.
type fakeSource struct {
	mu         sync.Mutex
	history    map[string][]domain.SourceMessage // ascending by id
	fetchErr   map[string]error
	identities map[int64]domain.Identity
	deliverErr []error
	delivered  []domain.OutboundMessage
	deleted    []string
	deleteErr  error
	calls      []string
	nextID     int
	mediaBody  string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		history:    make(map[string][]domain.SourceMessage),
		fetchErr:   make(map[string]error),
		identities: make(map[int64]domain.Identity),
		nextID:     5000,
	}
}

func (f *fakeSource) post(channel string, msgs ...domain.SourceMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[channel] = append(f.history[channel], msgs...)
	sort.Slice(f.history[channel], func(i, j int) bool { return f.history[channel][i].ID < f.history[channel][j].ID })
}

func (f *fakeSource) FetchHistory(ctx context.Context, channelRef string, limit int, offsetID int64) ([]domain.SourceMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "fetch:"+channelRef)
	if err := f.fetchErr[channelRef]; err != nil {
		return nil, err
	}
	msgs := f.history[channelRef]
	var out []domain.SourceMessage
	for i := len(msgs) - 1; i >= 0 && len(out) < limit; i-- {
		if offsetID > 0 && msgs[i].ID >= offsetID {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *fakeSource) DeliverMessage(ctx context.Context, channelRef string, msg domain.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "deliver:"+channelRef)
	if len(f.deliverErr) > 0 {
		err := f.deliverErr[0]
		f.deliverErr = f.deliverErr[1:]
		if err != nil {
			return "", err
		}
	}
	f.delivered = append(f.delivered, msg)
	f.nextID++
	return fmt.Sprint(f.nextID), nil
}

func (f *fakeSource) DeleteMessage(ctx context.Context, channelRef string, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channelRef+"/"+messageID)
	return f.deleteErr
}

func (f *fakeSource) ResolveIdentity(ctx context.Context, userID int64) (domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident, ok := f.identities[userID]
	if !ok {
		return domain.Identity{}, fmt.Errorf("user %d: %w", userID, errNetwork)
	}
	return ident, nil
}

func (f *fakeSource) DownloadMedia(ctx context.Context, ref domain.MediaRef, w io.Writer) (int64, error) {
	n, err := io.Copy(w, strings.NewReader(f.mediaBody))
	return n, err
}

// fakeRelayer returns a fixed result or error.
type fakeRelayer struct {
	err   error
	calls int
}

func (r *fakeRelayer) Relay(ctx context.Context, ch domain.ChannelDescriptor, ref domain.MediaRef, messageID int64, text string) (*media.Result, error) {
	r.calls++
	if r.err != nil {
		return nil, domain.Wrap(domain.KindMediaRelay, "media relay", r.err)
	}
	name := media.DeriveName(ref.FileName, text, ch.FilePrefix, messageID, media.Classify(ref))
	p := media.RelayPath(ch.MediaNamespace, name)
	return &media.Result{URL: "https://cdn.example.com" + p, Path: p, Type: media.Classify(ref)}, nil
}

// fakeRelayHost records deletes.
type fakeRelayHost struct {
	deleted   []string
	deleteErr error
}

func (h *fakeRelayHost) Put(ctx context.Context, p string, r io.Reader) error { return nil }
func (h *fakeRelayHost) Size(ctx context.Context, p string) (int64, bool, error) {
	return 0, false, nil
}
func (h *fakeRelayHost) Delete(ctx context.Context, p string) error {
	h.deleted = append(h.deleted, p)
	return h.deleteErr
}
func (h *fakeRelayHost) PublicURL(p string) string { return "https://cdn.example.com" + p }

// flakyStore wraps a MemoryStore with injectable failures.
type flakyStore struct {
	*store.MemoryStore
	hideExisting bool
	insertErr    map[string]error // by source message id
	updateErrs   int              // fail the next n updates
	queries      []string
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore(), insertErr: make(map[string]error)}
}

func (s *flakyStore) ExistsByKey(ctx context.Context, collection, key string) (bool, error) {
	if s.hideExisting {
		return false, nil
	}
	return s.MemoryStore.ExistsByKey(ctx, collection, key)
}

func (s *flakyStore) Insert(ctx context.Context, collection string, rec domain.MessageRecord) error {
	if err := s.insertErr[rec.SourceMessageID]; err != nil {
		return err
	}
	return s.MemoryStore.Insert(ctx, collection, rec)
}

func (s *flakyStore) UpdateFields(ctx context.Context, collection, id string, p domain.Patch) error {
	if s.updateErrs > 0 {
		s.updateErrs--
		return errNetwork
	}
	return s.MemoryStore.UpdateFields(ctx, collection, id, p)
}

func (s *flakyStore) Query(ctx context.Context, collection string, f domain.Filter, limit int) ([]domain.MessageRecord, error) {
	phase := "retention"
	switch {
	case f.DeleteSynced != nil:
		phase = "deletes"
	case f.Origin != nil:
		phase = "outbound"
	}
	s.queries = append(s.queries, phase+":"+collection)
	return s.MemoryStore.Query(ctx, collection, f, limit)
}

var archive = domain.ChannelDescriptor{
	SourceID:       "@archive",
	DisplayName:    "Archive",
	CollectionName: "archive_messages",
	MediaNamespace: "/archive/",
	FilePrefix:     "archive",
	Retention:      24 * time.Hour,
}

func textMessage(id int64, text string) domain.SourceMessage {
	return domain.SourceMessage{
		ID:            id,
		Sender:        domain.SenderRef{ChannelID: -100},
		Text:          text,
		TimestampUnix: 1_700_000_000 + id,
	}
}

func messageRange(from, to int64) []domain.SourceMessage {
	var out []domain.SourceMessage
	for id := from; id <= to; id++ {
		out = append(out, textMessage(id, fmt.Sprintf("m%d", id)))
	}
	return out
}

type fixture struct {
	source  *fakeSource
	store   *flakyStore
	relayer *fakeRelayer
	host    *fakeRelayHost
	cursors *cursor.Map
	now     time.Time
	engine  *Engine
}

func newFixture(opts Options, initial map[string]int64) *fixture {
	f := &fixture{
		source:  newFakeSource(),
		store:   newFlakyStore(),
		relayer: &fakeRelayer{},
		host:    &fakeRelayHost{},
		cursors: cursor.New(initial),
		now:     time.Unix(1_800_000_000, 0),
	}
	f.engine = New(Deps{
		Source:  f.source,
		Store:   f.store,
		Media:   f.relayer,
		Relay:   f.host,
		Cursors: f.cursors,
		Clock:   func() time.Time { return f.now },
		Logger:  testLogger(),
	}, opts)
	return f
}

func (f *fixture) records(ch domain.ChannelDescriptor) []domain.MessageRecord {
	return f.store.All(ch.CollectionName)
}

func (f *fixture) recordFor(ch domain.ChannelDescriptor, sourceID string) (domain.MessageRecord, int) {
	var found domain.MessageRecord
	n := 0
	for _, r := range f.records(ch) {
		if r.Origin == domain.OriginSource && r.SourceMessageID == sourceID {
			found = r
			n++
		}
	}
	return found, n
}
