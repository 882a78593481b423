package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hedeqiang/dropwatch/watchset"
)

// Store is the watch-set the commands manage.
type Store interface {
	Add(addr string) watchset.Result
	Remove(addr string) watchset.Result
	List() []string
}

type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

const helpText = "*Commands*\n" +
	"`/add <address>` watch a wallet\n" +
	"`/remove <address>` stop watching a wallet\n" +
	"`/list` show watched wallets\n" +
	"`/status` show engine status\n" +
	"`/help` show this message"

const welcomeText = "*dropwatch* reports ERC-20 transfers of the wallets on its watch list.\n\n" + helpText

// Commands polls the Bot API for chat commands and answers them.
type Commands struct {
	tg       *Telegram
	store    Store
	status   func() string
	names    map[string]string
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	offset int64
}

// NewCommands creates a command handler. status renders the /status reply;
// names maps lower-case addresses to display names for /list.
func NewCommands(tg *Telegram, store Store, status func() string, names map[string]string, interval time.Duration, logger zerolog.Logger) *Commands {
	return &Commands{
		tg:       tg,
		store:    store,
		status:   status,
		names:    names,
		interval: interval,
		logger:   logger.With().Str("component", "commands").Logger(),
	}
}

// Run polls for commands on every interval until ctx is done.
func (c *Commands) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("command poll failed")
			}
		}
	}
}

// Poll fetches pending updates from the first endpoint that answers and
// replies to each command in the originating chat.
func (c *Commands) Poll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	method := "getUpdates?timeout=1&offset=" + strconv.FormatInt(c.offset+1, 10)
	var last error
	for _, endpoint := range c.tg.cfg.Endpoints {
		updates, err := call[[]update](ctx, c.tg, endpoint, method, nil)
		if err != nil {
			last = err
			if !quietPollError(err) {
				c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("fetch updates failed")
			}
			continue
		}
		for _, u := range updates {
			c.offset = u.UpdateID
			if u.Message == nil {
				continue
			}
			reply := c.Handle(u.Message.Text)
			if reply == "" {
				continue
			}
			chat := strconv.FormatInt(u.Message.Chat.ID, 10)
			if err := c.tg.Deliver(ctx, reply, chat); err != nil {
				c.logger.Warn().Err(err).Str("chat", chat).Msg("command reply dropped")
			}
		}
		return nil
	}
	return last
}

// quietPollError reports errors expected while long-polling: conflicts with
// another poller, rate limits and timeouts.
func quietPollError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return Classify(err) == ClassTimeout
}

// Handle returns the reply to a chat message, or "" if it is not a command.
func (c *Commands) Handle(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/start":
		return welcomeText
	case "/help":
		return helpText
	case "/add":
		if arg == "" {
			return "Usage: `/add <address>`"
		}
		return c.mutate("added to", arg, c.store.Add(arg))
	case "/remove":
		if arg == "" {
			return "Usage: `/remove <address>`"
		}
		return c.mutate("removed from", arg, c.store.Remove(arg))
	case "/list":
		return c.list()
	case "/status":
		if c.status == nil {
			return "Status unavailable."
		}
		return c.status()
	default:
		return "Unknown command. Use /help to see available commands."
	}
}

func (c *Commands) mutate(verb, arg string, res watchset.Result) string {
	addr := strings.ToLower(strings.TrimSpace(arg))
	if !res.OK {
		return fmt.Sprintf("`%s` was not %s the watch list: %s.", addr, verb, res.Reason)
	}
	return fmt.Sprintf("`%s` %s the watch list. Watching %d addresses.", addr, verb, len(c.store.List()))
}

func (c *Commands) list() string {
	addrs := c.store.List()
	if len(addrs) == 0 {
		return "The watch list is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*Watch list (%d)*\n", len(addrs))
	for i, a := range addrs {
		if name, ok := c.names[a]; ok && name != "" {
			fmt.Fprintf(&b, "%d. %s `%s`\n", i+1, name, a)
		} else {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, a)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
