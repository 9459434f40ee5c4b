package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cinema-realtime/chat"
	"cinema-realtime/realtime"
	"cinema-realtime/seatmap"
	"cinema-realtime/shared"
)

const commandTimeout = 10 * time.Second

// terminal turns typed commands into client library calls and prints
// what the library reports back.
type terminal struct {
	out     io.Writer
	outMu   sync.Mutex
	role    shared.Role
	who     chat.Identity
	booking interface {
		Seats(ctx context.Context, showtimeID string) ([]shared.Seat, error)
	}

	viewer   *seatmap.Viewer
	seats    *seatmap.Controller
	desk     *chat.Desk
	customer *chat.CustomerChat

	shown int // chat messages already printed
}

func (t *terminal) printf(format string, args ...any) {
	t.outMu.Lock()
	defer t.outMu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) help() {
	t.printf("commands: open <showtime> | seats | hold <seat>... | release <seat> | book <seat>... | mine\n")
	if t.role == shared.RoleEmployee {
		t.printf("          roster | switch <customer> | say <text> | quit\n")
	} else {
		t.printf("          say <text> | quit\n")
	}
}

// exec runs one command line. It reports false when the user asked to quit.
func (t *terminal) exec(ctx context.Context, line string) bool {
	cmd, args := splitCommand(line)
	if cmd == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "quit", "exit":
		return false
	case "help", "?":
		t.help()
	case "open":
		err = t.open(ctx, args)
	case "seats":
		t.printf("%s", renderSeatMap(t.viewer.State()))
	case "mine":
		t.printf("held by me: %s\n", strings.Join(t.viewer.State().HeldByMe(), " "))
	case "hold":
		if len(args) == 0 {
			err = errors.New("usage: hold <seat>...")
			break
		}
		err = t.seats.RequestHold(ctx, upper(args)...)
	case "release":
		if len(args) != 1 {
			err = errors.New("usage: release <seat>")
			break
		}
		err = t.seats.RequestRelease(ctx, strings.ToUpper(args[0]))
	case "book":
		if len(args) == 0 {
			err = errors.New("usage: book <seat>...")
			break
		}
		err = t.seats.Book(ctx, upper(args)...)
	case "say":
		err = t.say(ctx, strings.Join(args, " "))
	case "switch":
		err = t.switchTo(ctx, args)
	case "roster":
		err = t.roster()
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		t.printf("error: %s\n", describe(err))
	}
	return true
}

func (t *terminal) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: open <showtime>")
	}
	if err := t.viewer.Open(ctx, args[0]); err != nil {
		return err
	}
	layout, err := t.booking.Seats(ctx, args[0])
	if err != nil {
		t.printf("layout unavailable, showing holds only: %v\n", err)
	} else {
		t.viewer.Seed(layout)
	}
	t.printf("%s", renderSeatMap(t.viewer.State()))
	return nil
}

func (t *terminal) say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("usage: say <text>")
	}
	if t.desk != nil {
		return t.desk.Send(ctx, text)
	}
	return t.customer.Send(ctx, text)
}

func (t *terminal) switchTo(ctx context.Context, args []string) error {
	if t.desk == nil {
		return errors.New("only employees can switch conversations")
	}
	if len(args) != 1 {
		return errors.New("usage: switch <customer>")
	}
	t.outMu.Lock()
	t.shown = 0
	t.outMu.Unlock()
	return t.desk.SwitchActiveConversation(ctx, args[0])
}

func (t *terminal) roster() error {
	if t.desk == nil {
		return errors.New("only employees have a roster")
	}
	active := t.desk.Active()
	for _, e := range t.desk.Roster() {
		marker := " "
		if e.UserID == active {
			marker = "*"
		}
		t.printf("%s %-24s %-16s unread %d\n", marker, e.UserID, e.Name, e.Unread)
	}
	return nil
}

// watch prints chat messages as they arrive.
func (t *terminal) watch(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
		}
		var msgs []shared.ChatMessage
		if t.desk != nil {
			msgs = t.desk.Messages()
		} else {
			msgs = t.customer.Messages()
		}

		t.outMu.Lock()
		if len(msgs) < t.shown {
			t.shown = 0
		}
		for _, m := range msgs[t.shown:] {
			fmt.Fprintf(t.out, "\n[%s] %s: %s\n", m.Time.Local().Format("15:04"), m.Sender, m.Content)
		}
		t.shown = len(msgs)
		t.outMu.Unlock()
	}
}

func describe(err error) string {
	var unavailable *seatmap.SeatUnavailableError
	var rejected *realtime.InvocationError
	switch {
	case errors.As(err, &unavailable):
		return fmt.Sprintf("seat %s is %s", unavailable.SeatID, unavailable.Status)
	case errors.As(err, &rejected):
		return "rejected by server: " + rejected.Message
	case errors.Is(err, realtime.ErrNotConnected), errors.Is(err, realtime.ErrConnectionLost):
		return "offline, try again once reconnected"
	case errors.Is(err, realtime.ErrNotInRoom):
		return "open a showtime first"
	case errors.Is(err, chat.ErrNoActiveConversation):
		return "switch to a customer first"
	default:
		return err.Error()
	}
}

func upper(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strings.ToUpper(id)
	}
	return out
}

// renderSeatMap draws the venue grid: . free, o mine (O until the hub
// confirms), x held by someone else, # sold.
func renderSeatMap(state *seatmap.State) string {
	var b strings.Builder
	room := state.Room()
	if room == "" {
		return "no showtime open\n"
	}
	fmt.Fprintf(&b, "showtime %s\n   ", room)
	for col := 0; col < shared.VenueCols; col++ {
		fmt.Fprintf(&b, "%3d", col+1)
	}
	b.WriteString("\n")
	for row := 0; row < shared.VenueRows; row++ {
		fmt.Fprintf(&b, "%c  ", 'A'+row)
		for col := 0; col < shared.VenueCols; col++ {
			b.WriteString("  ")
			b.WriteByte(seatGlyph(state.Seat(shared.GetSeatID(row, col))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func seatGlyph(s seatmap.Seat) byte {
	switch s.Status {
	case seatmap.HeldByMe:
		if s.Pending {
			return 'O'
		}
		return 'o'
	case seatmap.HeldByOther:
		return 'x'
	case seatmap.Sold:
		return '#'
	default:
		return '.'
	}
}
