// queuectl drives a clinic-queue server from the command line: check-in
// at the reception desk, room calls, and the end-of-day reset.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

const defaultServer = "http://localhost:3001"

type command struct {
	summary string
	run     func(ctx context.Context, c *client, args []string) error
}

var commands = map[string]command{
	"checkin": {"register a patient: --last NAME --first NAME [--reason TEXT]", runCheckIn},
	"queue":   {"list waiting patients in call order", runQueue},
	"next":    {"call the next patient: --room N", roomAction("/api/next", true, false)},
	"recall":  {"repeat the current call of a room: --room N", roomAction("/api/recall", true, false)},
	"skip":    {"mark a called patient absent: --ticket ID or --room N", roomAction("/api/skip", false, false)},
	"done":    {"finish a consultation: --ticket ID", roomAction("/api/done", false, true)},
	"requeue": {"put a ticket back at the end of the queue: --ticket ID", roomAction("/api/requeue", false, true)},
	"history": {"recent calls: [--room N] [--limit N]", runHistory},
	"room":    {"previous, current and next ticket of a room: --room N", runRoom},
	"ticket":  {"show one ticket: --id ID", runTicket},
	"reset":   {"delete every ticket and restart numbering: --yes", runReset},
	"info":    {"server hostname and LAN address", runInfo},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var server string
	var timeout time.Duration
	var retries int

	flagSet := pflag.NewFlagSet("queuectl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&server, "server", envOr("QUEUE_SERVER", defaultServer), "clinic-queue base URL")
	flagSet.DurationVar(&timeout, "timeout", 10*time.Second, "per-request timeout")
	flagSet.IntVar(&retries, "retries", 2, "retries for room actions when the server is unavailable")
	flagSet.Usage = func() { printUsage(flagSet) }
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printUsage(flagSet)
		return errors.New("missing command")
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", rest[0])
	}

	c := newClient(server, timeout, retries, stdout)
	return cmd.run(ctx, c, rest[1:])
}

func printUsage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: queuectl [flags] <command> [command flags]\n\nCommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(os.Stderr, "\nFlags:\n%s", flagSet.FlagUsages())
}

func runCheckIn(ctx context.Context, c *client, args []string) error {
	var last, first, reason string
	flagSet := pflag.NewFlagSet("checkin", pflag.ContinueOnError)
	flagSet.StringVar(&last, "last", "", "last name")
	flagSet.StringVar(&first, "first", "", "first name")
	flagSet.StringVar(&reason, "reason", "", "reason for the visit")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(last) == "" || strings.TrimSpace(first) == "" {
		return errors.New("checkin: --last and --first are required")
	}
	body := map[string]string{"last_name": last, "first_name": first}
	if reason != "" {
		body["reason"] = reason
	}
	return c.post(ctx, "/api/checkin", nil, body, "")
}

func runQueue(ctx context.Context, c *client, args []string) error {
	if err := noArgs("queue", args); err != nil {
		return err
	}
	return c.get(ctx, "/api/queue", nil)
}

func roomAction(path string, needsRoom, needsTicket bool) func(context.Context, *client, []string) error {
	name := strings.TrimPrefix(path, "/api/")
	return func(ctx context.Context, c *client, args []string) error {
		var room int
		var ticketID int64
		var requestID string
		flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
		flagSet.IntVarP(&room, "room", "r", 0, "room number")
		flagSet.Int64VarP(&ticketID, "ticket", "t", 0, "ticket id")
		flagSet.StringVar(&requestID, "request-id", "", "idempotency key (generated when empty)")
		if err := flagSet.Parse(args); err != nil {
			return err
		}
		if needsRoom && room <= 0 {
			return fmt.Errorf("%s: --room is required", name)
		}
		if needsTicket && ticketID <= 0 {
			return fmt.Errorf("%s: --ticket is required", name)
		}
		if !needsRoom && !needsTicket && room <= 0 && ticketID <= 0 {
			return fmt.Errorf("%s: --ticket or --room is required", name)
		}

		params := map[string]string{}
		if room > 0 {
			params["room"] = strconv.Itoa(room)
		}
		if ticketID > 0 {
			params["ticket_id"] = strconv.FormatInt(ticketID, 10)
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		return c.post(ctx, path, params, nil, requestID)
	}
}

func runHistory(ctx context.Context, c *client, args []string) error {
	var room, limit int
	flagSet := pflag.NewFlagSet("history", pflag.ContinueOnError)
	flagSet.IntVarP(&room, "room", "r", 0, "room number (all rooms when 0)")
	flagSet.IntVarP(&limit, "limit", "n", 0, "number of calls (server default when 0)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	params := map[string]string{}
	if room > 0 {
		params["room"] = strconv.Itoa(room)
	}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	return c.get(ctx, "/api/history", params)
}

func runRoom(ctx context.Context, c *client, args []string) error {
	var room int
	flagSet := pflag.NewFlagSet("room", pflag.ContinueOnError)
	flagSet.IntVarP(&room, "room", "r", 0, "room number")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if room <= 0 {
		return errors.New("room: --room is required")
	}
	return c.get(ctx, "/api/room-state", map[string]string{"room": strconv.Itoa(room)})
}

func runTicket(ctx context.Context, c *client, args []string) error {
	var id int64
	flagSet := pflag.NewFlagSet("ticket", pflag.ContinueOnError)
	flagSet.Int64Var(&id, "id", 0, "ticket id")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if id <= 0 {
		return errors.New("ticket: --id is required")
	}
	return c.get(ctx, "/api/tickets/"+strconv.FormatInt(id, 10), nil)
}

func runReset(ctx context.Context, c *client, args []string) error {
	var yes bool
	flagSet := pflag.NewFlagSet("reset", pflag.ContinueOnError)
	flagSet.BoolVar(&yes, "yes", false, "confirm deletion of every ticket")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if !yes {
		return errors.New("reset deletes every ticket; pass --yes to confirm")
	}
	return c.post(ctx, "/api/reset", nil, nil, "")
}

func runInfo(ctx context.Context, c *client, args []string) error {
	if err := noArgs("info", args); err != nil {
		return err
	}
	return c.get(ctx, "/api/info", nil)
}

func noArgs(name string, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%s: unexpected argument %q", name, args[0])
	}
	return nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
