package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	mh "github.com/multiformats/go-multihash"
)

// reprovideInterval matches the DHT's own default provider-record TTL
// cadence closely enough to keep this peer's fileshare offers discoverable
// for as long as StartProviding is in effect.
const reprovideInterval = 12 * time.Hour

// contentKey turns a raw filename (the only content identifier fileshare
// needs, see wire.FileShareRequest) into a CIDv1 the DHT can route on.
func contentKey(filename string) (cid.Cid, error) {
	sum, err := mh.Sum([]byte(filename), mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("transport: hash content key: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

type providerHandle struct {
	cancel context.CancelFunc
}

// AddToRoutingTable registers p in the DHT's routing table so provider
// lookups can route through it immediately, without waiting for the table's
// own refresh cycle to discover the connection.
func (f *Fabric) AddToRoutingTable(p peer.ID) {
	if f.dht == nil {
		return
	}
	if _, err := f.dht.RoutingTable().TryAddPeer(p, true, false); err != nil {
		f.log.Debugw("routing table add failed", "peer", p, "error", err)
	}
}

// StartProviding announces this peer as a source for filename on the DHT
// and keeps reannouncing until StopProviding is called or the fabric closes.
func (f *Fabric) StartProviding(ctx context.Context, filename string) error {
	if f.dht == nil {
		return fmt.Errorf("transport: no DHT available (routing disabled)")
	}
	c, err := contentKey(filename)
	if err != nil {
		return err
	}

	if err := f.dht.Provide(ctx, c, true); err != nil {
		return fmt.Errorf("transport: provide %s: %w", filename, err)
	}

	provideCtx, cancel := context.WithCancel(context.Background())

	f.provideMu.Lock()
	if existing, ok := f.provide[filename]; ok {
		existing.cancel()
	}
	f.provide[filename] = providerHandle{cancel: cancel}
	f.provideMu.Unlock()

	go f.reprovideLoop(provideCtx, c, filename)
	return nil
}

func (f *Fabric) reprovideLoop(ctx context.Context, c cid.Cid, filename string) {
	ticker := time.NewTicker(reprovideInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.dht.Provide(ctx, c, true); err != nil {
				f.log.Debugw("reprovide failed", "file", filename, "error", err)
			}
		}
	}
}

// StopProviding withdraws this peer's local reannouncement of filename. The
// DHT itself has no retraction primitive; existing provider records simply
// expire once this peer stops reannouncing them.
func (f *Fabric) StopProviding(filename string) {
	f.provideMu.Lock()
	defer f.provideMu.Unlock()
	if h, ok := f.provide[filename]; ok {
		h.cancel()
		delete(f.provide, filename)
	}
}

// GetProviders searches the DHT for peers providing filename, emitting
// EventDHTProvidersFound as results stream in and EventDHTProvidersExhausted
// once the search completes. The exhausted event fires even when nothing
// was found, so the consumer side can report an empty search.
func (f *Fabric) GetProviders(ctx context.Context, filename string, limit int) error {
	if f.dht == nil {
		return fmt.Errorf("transport: no DHT available (routing disabled)")
	}
	c, err := contentKey(filename)
	if err != nil {
		return err
	}

	go func() {
		var found []peer.ID
		for pi := range f.dht.FindProvidersAsync(ctx, c, limit) {
			found = append(found, pi.ID)
			f.emit(Event{
				Kind:      EventDHTProvidersFound,
				Key:       filename,
				Providers: []peer.ID{pi.ID},
				At:        time.Now(),
			})
		}
		f.emit(Event{
			Kind:      EventDHTProvidersExhausted,
			Key:       filename,
			Providers: found,
			At:        time.Now(),
		})
	}()
	return nil
}
