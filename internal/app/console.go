package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tyiu/sats-price/internal/domain"
	"github.com/tyiu/sats-price/internal/engine"
)

var errUsage = errors.New("usage")

const consoleHelp = `commands:
  sats <amount>          set the amount in satoshis
  btc <amount>           set the amount in BTC
  fiat <CODE> <amount>   set the amount in a tracked currency
  price <CODE> <rate>    type the price of 1 BTC (manual source only)
  add <CODE>             watch a currency
  remove <CODE>          stop watching a currency
  source [name]          show or switch the price source
  refresh                fetch prices now
  show                   print the converter
  list                   list common currency codes
  quit                   exit`

// Console executes converter commands against a Session. Every amount
// command is a completed edit: the field is normalized once the line is
// applied. Run drives it from a plain line stream; RunTUI drives it from a
// terminal.
type Console struct {
	session *engine.Session
	out     io.Writer
	echo    bool // print the converter after every change
}

func NewConsole(session *engine.Session, out io.Writer) *Console {
	return &Console{session: session, out: out, echo: true}
}

// Run reads commands from in until quit, EOF or ctx is done. It serves
// piped or redirected input; terminals get RunTUI.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(c.out, `type "help" for commands`)
	for {
		fmt.Fprint(c.out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		quit, err := c.Exec(ctx, sc.Text())
		if err != nil {
			if errors.Is(err, engine.ErrSessionClosed) {
				return nil
			}
			fmt.Fprintln(c.out, errorText(err))
		}
		if quit {
			return nil
		}
	}
}

// Exec runs one command line. quit is true for "quit" and "exit".
func (c *Console) Exec(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, consoleHelp)
		return false, nil
	case "sats", "btc":
		text := strings.Join(args, "")
		err = c.edit(ctx, func(cv *engine.Converter) {
			if cmd == "sats" {
				cv.SetSats(text)
			} else {
				cv.SetBTC(text)
			}
		})
	case "fiat":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: fiat <CODE> <amount>", errUsage)
		}
		code, text := args[0], strings.Join(args[1:], "")
		if code, err = domain.NormalizeCode(code); err != nil {
			return false, err
		}
		err = c.edit(ctx, func(cv *engine.Converter) { cv.SetCurrencyValue(code, text) })
	case "price":
		if len(args) < 1 {
			return false, fmt.Errorf("%w: price <CODE> <rate>", errUsage)
		}
		if err = c.session.SetManualPrice(ctx, args[0], strings.Join(args[1:], "")); err == nil {
			c.changed()
		}
	case "add", "remove":
		if len(args) != 1 {
			return false, fmt.Errorf("%w: %s <CODE>", errUsage, cmd)
		}
		var opErr error
		err = c.session.Do(ctx, func(cv *engine.Converter) {
			if cmd == "add" {
				opErr = cv.AddWatchedCurrency(args[0])
			} else {
				opErr = cv.RemoveWatchedCurrency(args[0])
			}
		})
		if err == nil {
			err = opErr
		}
		if err == nil {
			c.changed()
		}
	case "source":
		if len(args) == 0 {
			c.printSources()
			return false, nil
		}
		kind, perr := domain.ParseSourceKind(args[0])
		if perr != nil {
			return false, perr
		}
		if err = c.session.SetSource(ctx, kind); err == nil {
			fmt.Fprintf(c.out, "source: %s\n", kind)
		}
	case "refresh":
		if err = c.session.Refresh(ctx); err == nil {
			fmt.Fprintln(c.out, "refreshing...")
		}
	case "show":
		fmt.Fprint(c.out, RenderView(c.session.Snapshot()))
	case "list":
		c.printCodes(domain.CommonCurrencies(c.session.Snapshot().Primary))
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, err
}

func (c *Console) edit(ctx context.Context, fn func(*engine.Converter)) error {
	err := c.session.Do(ctx, func(cv *engine.Converter) {
		fn(cv)
		cv.FinishEditing()
	})
	if err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Console) changed() {
	if c.echo {
		fmt.Fprint(c.out, RenderView(c.session.Snapshot()))
	}
}

func (c *Console) printSources() {
	active := c.session.SourceKind()
	for _, k := range c.session.Sources() {
		if k == active {
			fmt.Fprintln(c.out, labelStyle.Render("* "+k.Key()))
		} else {
			fmt.Fprintln(c.out, "  "+k.Key())
		}
	}
}

func (c *Console) printCodes(codes []string) {
	for i := 0; i < len(codes); i += 12 {
		end := min(i+12, len(codes))
		fmt.Fprintln(c.out, strings.Join(codes[i:end], " "))
	}
}
