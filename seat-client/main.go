package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cinema-realtime/chat"
	"cinema-realtime/realtime"
	"cinema-realtime/seatmap"
	"cinema-realtime/shared"

	"github.com/spf13/pflag"
)

type options struct {
	hubURL       string
	bookingURL   string
	role         string
	userID       string
	name         string
	token        string
	identityFile string
	showtime     string
}

func parseFlags(args []string) (options, error) {
	shared.LoadDotEnv()
	var o options
	fs := pflag.NewFlagSet("seat-client", pflag.ContinueOnError)
	fs.StringVar(&o.hubURL, "hub", shared.EnvString("HUB_URL", "ws://localhost"+shared.DefaultEdgePort+shared.WebSocketEndpoint), "websocket endpoint of the edge server")
	fs.StringVar(&o.bookingURL, "booking", shared.EnvString("BOOKING_SERVICE_URL", "http://localhost"+shared.BookingServicePort), "booking service base URL, used to load seat layouts")
	fs.StringVarP(&o.role, "role", "r", string(shared.RoleCustomer), "Customer or Employee")
	fs.StringVarP(&o.userID, "user", "u", "", "authenticated user id; customers without one get a stored guest id")
	fs.StringVarP(&o.name, "name", "n", "", "display name")
	fs.StringVar(&o.token, "token", shared.EnvString("ACCESS_TOKEN", ""), "bearer token for the edge server")
	fs.StringVar(&o.identityFile, "identity-file", defaultIdentityFile(), "where the guest identity is kept")
	fs.StringVarP(&o.showtime, "showtime", "s", "", "showtime to open on start")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	role := shared.Role(o.role)
	if !role.Valid() {
		return options{}, fmt.Errorf("unknown role %q", o.role)
	}
	if role == shared.RoleEmployee && o.userID == "" {
		return options{}, errors.New("employees must pass --user")
	}
	return o, nil
}

func defaultIdentityFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "cinema-realtime", "identity.json")
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := shared.NewLogger("seat-client")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("seat client stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer, logger *slog.Logger) error {
	role := shared.Role(opts.role)
	who := chat.Identity{UserID: opts.userID, Name: opts.name}
	if role == shared.RoleCustomer {
		var err error
		who, err = chat.ResolveIdentity(ctx, chat.FileStore{Path: opts.identityFile}, opts.userID, opts.name)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
	}

	session, err := realtime.NewSession(realtime.Config{
		URL:    opts.hubURL,
		UserID: who.UserID,
		Name:   who.Name,
		Role:   role,
		Token:  opts.token,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer session.Disconnect()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = session.Connect(dialCtx)
	cancel()
	if err != nil {
		// The session keeps dialing in the background.
		fmt.Fprintf(out, "hub not reachable yet (%v), still trying\n", err)
	}

	t := &terminal{
		out:     out,
		role:    role,
		who:     who,
		booking: &layoutClient{baseURL: opts.bookingURL, http: &http.Client{Timeout: 5 * time.Second}},
		viewer:  seatmap.NewViewer(session, who.UserID, logger),
	}
	t.seats = seatmap.NewController(t.viewer)
	defer t.seats.Close()

	if role == shared.RoleEmployee {
		t.desk = chat.NewDesk(session, logger)
		defer t.desk.Close(context.Background())
		go t.watch(ctx, t.desk.Changes())
	} else {
		t.customer = chat.NewCustomerChat(session, who, logger)
		defer t.customer.Close()
		if session.IsConnected() {
			if err := t.customer.Open(ctx); err != nil {
				fmt.Fprintf(out, "chat history unavailable: %v\n", err)
			}
		}
		go t.watch(ctx, t.customer.Changes())
	}

	fmt.Fprintf(out, "signed in as %s (%s, %s)\n", who.Name, who.UserID, role)
	if opts.showtime != "" {
		t.exec(ctx, "open "+opts.showtime)
	}
	t.help()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		select {
		case <-ctx.Done():
			return nil
		case <-session.Done():
			return realtime.ErrSessionClosed
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !t.exec(ctx, line) {
				if t.viewer.State().Room() != "" {
					closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					_ = t.viewer.Shutdown(closeCtx)
					cancel()
				}
				return nil
			}
		}
	}
}

// layoutClient fetches seat layouts from the booking service.
type layoutClient struct {
	baseURL string
	http    *http.Client
}

func (c *layoutClient) Seats(ctx context.Context, showtimeID string) ([]shared.Seat, error) {
	endpoint := c.baseURL + "/api/showtimes/" + url.PathEscape(showtimeID) + "/seats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("booking service returned %d", resp.StatusCode)
	}
	var seats []shared.Seat
	if err := json.NewDecoder(resp.Body).Decode(&seats); err != nil {
		return nil, err
	}
	return seats, nil
}

func splitCommand(line string) (string, []string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
