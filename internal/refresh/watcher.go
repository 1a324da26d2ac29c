package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/femcare-appointments/internal/appointment"
)

const DefaultInterval = 10 * time.Second

var (
	// ErrSlotUnavailable is a notice, not a failure: the fresh view no longer
	// offers the slot the user had chosen and the selection was dropped.
	ErrSlotUnavailable = errors.New("slot no longer available")
	ErrNoSelection     = errors.New("no provider and date selected")
	ErrNoSlotChosen    = errors.New("no slot chosen")
	ErrSuperseded      = errors.New("selection changed while fetching")
	ErrClosed          = errors.New("watcher closed")
)

// Source evaluates availability for a provider-day. *appointment.Service and
// the HTTP client both satisfy it.
type Source interface {
	Availability(ctx context.Context, providerID uuid.UUID, date time.Time) (appointment.AvailabilityView, error)
}

// Booker places a booking for a chosen slot. The HTTP client satisfies it.
type Booker interface {
	BookSlot(ctx context.Context, req appointment.BookingRequest) (*appointment.Appointment, error)
}

// Update is delivered to OnUpdate each time a fetch replaces the view.
type Update struct {
	Generation  uint64
	ProviderID  uuid.UUID
	Date        time.Time
	View        appointment.AvailabilityView
	Selected    *appointment.Slot
	Deselected  bool
	Interactive bool
}

type Options struct {
	Interval time.Duration
	OnUpdate func(Update)
	Logger   zerolog.Logger
}

// Watcher keeps one provider-day's availability fresh while it is selected.
// Interactive calls (Select, Refresh) report errors and notices; background
// polls only update state.
type Watcher struct {
	src        Source
	interval   time.Duration
	onUpdate   func(Update)
	log        zerolog.Logger
	invalidate chan struct{}

	mu         sync.Mutex
	gen        uint64
	active     bool
	closed     bool
	providerID uuid.UUID
	date       time.Time
	view       appointment.AvailabilityView
	selected   *appointment.Slot
	stopPoll   context.CancelFunc
	pollDone   chan struct{}
	notifying  chan struct{} // done channel of the poller while it runs OnUpdate
}

func NewWatcher(src Source, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Watcher{
		src:        src,
		interval:   opts.Interval,
		onUpdate:   opts.OnUpdate,
		log:        opts.Logger.With().Str("component", "availability-watcher").Logger(),
		invalidate: make(chan struct{}, 1),
	}
}

// Select switches to a provider-day, fetches it and starts polling. A date the
// policy rejects is reported and not polled.
func (w *Watcher) Select(ctx context.Context, providerID uuid.UUID, date time.Time) (Update, error) {
	w.stopPolling()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Update{}, ErrClosed
	}
	w.gen++
	gen := w.gen
	w.active = true
	w.providerID = providerID
	w.date = date
	w.view = appointment.AvailabilityView{}
	w.selected = nil
	w.mu.Unlock()

	upd, err := w.fetch(ctx, gen, true, nil)
	if errors.Is(err, appointment.ErrValidation) || errors.Is(err, ErrSuperseded) {
		return upd, err
	}
	w.startPolling(gen)
	return upd, err
}

// Choose marks a slot of the current view as the user's pick.
func (w *Watcher) Choose(slot appointment.Slot) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.active {
		return ErrNoSelection
	}
	for _, s := range append(append([]appointment.Slot(nil), w.view.Morning...), w.view.Afternoon...) {
		if s.Matches(slot.Start, slot.End) {
			picked := s
			w.selected = &picked
			return nil
		}
	}
	return ErrSlotUnavailable
}

// Refresh re-fetches on user demand, for example after a booking conflict.
func (w *Watcher) Refresh(ctx context.Context) (Update, error) {
	w.mu.Lock()
	active, gen := w.active, w.gen
	w.mu.Unlock()

	if !active {
		return Update{}, ErrNoSelection
	}
	return w.fetch(ctx, gen, true, nil)
}

// Book books the chosen slot of the current selection. ProviderID, Date and Slot
// of req are filled from the selection. On a conflict the selection is dropped,
// the view is re-fetched at once and returned with the conflict error.
func (w *Watcher) Book(ctx context.Context, booker Booker, req appointment.BookingRequest) (*appointment.Appointment, Update, error) {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		return nil, Update{}, ErrNoSelection
	}
	if w.selected == nil {
		w.mu.Unlock()
		return nil, Update{}, ErrNoSlotChosen
	}
	gen := w.gen
	req.ProviderID, req.Date, req.Slot = w.providerID, w.date, *w.selected
	w.mu.Unlock()

	appt, err := booker.BookSlot(ctx, req)
	if err == nil {
		w.dropSelection(gen)
		w.Invalidate()
		return appt, Update{}, nil
	}
	if !errors.Is(err, appointment.ErrConflict) {
		return nil, Update{}, err
	}

	w.dropSelection(gen)
	upd, ferr := w.fetch(ctx, gen, true, nil)
	if ferr != nil && !errors.Is(ferr, ErrSuperseded) {
		w.log.Warn().Err(ferr).Msg("availability refresh after booking conflict failed")
	}
	upd.Deselected = true
	return nil, upd, err
}

func (w *Watcher) dropSelection(gen uint64) {
	w.mu.Lock()
	if gen == w.gen {
		w.selected = nil
	}
	w.mu.Unlock()
}

// Invalidate asks the poll loop for an immediate silent refresh. It never blocks.
func (w *Watcher) Invalidate() {
	select {
	case w.invalidate <- struct{}{}:
	default:
	}
}

// Clear stops polling and drops the selection. Polling has stopped when it
// returns, except when called from OnUpdate on the poller itself: the poller then
// exits once the callback returns and delivers nothing further.
func (w *Watcher) Clear() {
	w.stopPolling()

	w.mu.Lock()
	w.gen++
	w.active = false
	w.view = appointment.AvailabilityView{}
	w.selected = nil
	w.mu.Unlock()
}

func (w *Watcher) Close() {
	w.Clear()

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func (w *Watcher) View() appointment.AvailabilityView {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

func (w *Watcher) Selected() (appointment.Slot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return appointment.Slot{}, false
	}
	return *w.selected, true
}

// fetch replaces the view for gen. poller is the calling poll goroutine's done
// channel, nil on interactive paths.
func (w *Watcher) fetch(ctx context.Context, gen uint64, interactive bool, poller chan struct{}) (Update, error) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return Update{}, ErrSuperseded
	}
	providerID, date := w.providerID, w.date
	w.mu.Unlock()

	view, err := w.src.Availability(ctx, providerID, date)

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return Update{}, ErrSuperseded
	}
	if err != nil {
		if errors.Is(err, appointment.ErrValidation) {
			w.view = view
		}
		w.mu.Unlock()
		return Update{Generation: gen, ProviderID: providerID, Date: date, View: view, Interactive: interactive}, err
	}

	w.view = view
	deselected := false
	if w.selected != nil && !view.Contains(*w.selected) {
		w.selected = nil
		deselected = true
	}
	upd := Update{
		Generation:  gen,
		ProviderID:  providerID,
		Date:        date,
		View:        view,
		Deselected:  deselected,
		Interactive: interactive,
	}
	if w.selected != nil {
		s := *w.selected
		upd.Selected = &s
	}
	w.mu.Unlock()

	if w.onUpdate != nil {
		w.notify(upd, poller)
	}
	if deselected && interactive {
		return upd, ErrSlotUnavailable
	}
	return upd, nil
}

func (w *Watcher) notify(upd Update, poller chan struct{}) {
	if poller != nil {
		w.mu.Lock()
		w.notifying = poller
		w.mu.Unlock()
		defer func() {
			w.mu.Lock()
			if w.notifying == poller {
				w.notifying = nil
			}
			w.mu.Unlock()
		}()
	}
	w.onUpdate(upd)
}

func (w *Watcher) startPolling(gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen || w.closed {
		return
	}
	if w.stopPoll != nil {
		w.stopPoll()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.stopPoll = cancel
	w.pollDone = done

	go w.poll(ctx, gen, done)
}

func (w *Watcher) stopPolling() {
	w.mu.Lock()
	cancel, done := w.stopPoll, w.pollDone
	w.stopPoll, w.pollDone = nil, nil
	// the poller cannot wait for itself to return
	self := done != nil && done == w.notifying
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		if !self {
			<-done
		}
	}
}

func (w *Watcher) poll(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.invalidate:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, w.interval)
		upd, err := w.fetch(fetchCtx, gen, false, done)
		cancel()

		switch {
		case errors.Is(err, ErrSuperseded):
			return
		case err != nil:
			if ctx.Err() == nil {
				w.log.Debug().Err(err).Msg("availability poll failed")
			}
		case upd.Deselected:
			w.log.Debug().Str("date", appointment.DateKey(upd.Date)).Msg("selected slot taken, deselected")
		}
	}
}
