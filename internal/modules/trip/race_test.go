// README: Concurrency tests for trip state transitions (run with -race).
package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ridehail/internal/modules/driver"
	"ridehail/internal/types"
)

func TestConcurrentAcceptSameTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		const drivers = 8
		for i := 0; i < drivers; i++ {
			h.addDriver(t, types.ID(fmt.Sprintf("d%d", i)), driver.StatusOnline)
		}
		tr := h.request(t, "r_race")

		type result struct {
			driverID types.ID
			err      error
		}
		var wg sync.WaitGroup
		results := make(chan result, drivers)
		start := make(chan struct{})
		for i := 0; i < drivers; i++ {
			id := types.ID(fmt.Sprintf("d%d", i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := h.svc.AcceptTrip(ctx, AcceptCommand{TripID: tr.ID, DriverID: id})
				results <- result{driverID: id, err: err}
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		var winner types.ID
		wins := 0
		for r := range results {
			if r.err == nil {
				wins++
				winner = r.driverID
				continue
			}
			if !errors.Is(r.err, types.ErrConflict) {
				t.Fatalf("unexpected error: %v", r.err)
			}
		}
		if wins != 1 {
			t.Fatalf("expected exactly one successful accept, got %d", wins)
		}

		got := h.get(t, tr.ID)
		if got.Status != StatusAccepted || got.DriverID == nil || *got.DriverID != winner {
			t.Fatalf("trip driver %v, winner %s", got.DriverID, winner)
		}
		for i := 0; i < drivers; i++ {
			id := types.ID(fmt.Sprintf("d%d", i))
			want := driver.StatusOnline
			if id == winner {
				want = driver.StatusBusy
			}
			if d := h.loadDriver(t, id); d.Status != want {
				t.Fatalf("driver %s is %s, want %s", id, d.Status, want)
			}
		}
		hist, _ := h.trips.History(ctx, tr.ID)
		assertValidPath(t, hist)
		if len(hist) != 2 {
			t.Fatalf("expected one accepted audit row, got %d rows", len(hist))
		}
	})
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		h.addDriver(t, "d1", driver.StatusOnline)
		tr := h.request(t, "r_accept_cancel")

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.svc.AcceptTrip(ctx, AcceptCommand{TripID: tr.ID, DriverID: "d1"})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := h.svc.CancelTrip(ctx, CancelCommand{TripID: tr.ID, ActorID: "r_accept_cancel", Reason: "user_cancel"})
			errs <- err
		}()
		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			if !errors.Is(err, types.ErrConflict) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if success < 1 {
			t.Fatalf("expected at least one success")
		}

		got := h.get(t, tr.ID)
		d := h.loadDriver(t, "d1")
		switch got.Status {
		case StatusCancelled:
			// accept either lost or ran first and was released by the cancel
			if d.Status != driver.StatusOnline {
				t.Fatalf("driver left %s after cancel", d.Status)
			}
		case StatusAccepted:
			if success != 1 || d.Status != driver.StatusBusy {
				t.Fatalf("accepted trip with driver %s, successes %d", d.Status, success)
			}
		default:
			t.Fatalf("unexpected final status %s", got.Status)
		}
		hist, _ := h.trips.History(ctx, tr.ID)
		assertValidPath(t, hist)
	})
}

func TestConcurrentRequestsSameRider(t *testing.T) {
	eachStore(t, func(t *testing.T, h *harness) {
		ctx := context.Background()
		const n = 6
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				o, d := taipei101, mainStn
				_, err := h.svc.RequestTrip(ctx, RequestCommand{RiderID: "r_dup", Origin: &o, Destination: &d})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		ok := 0
		for err := range errs {
			if err == nil {
				ok++
			} else if !errors.Is(err, ErrActiveTrip) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("expected one trip per rider, got %d", ok)
		}
	})
}
