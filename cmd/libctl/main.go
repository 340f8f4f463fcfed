package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"libcirc/internal/catalog"
	"libcirc/internal/circulation"
	"libcirc/internal/clients"
	"libcirc/internal/config"
)

const usage = `usage: libctl [flags] <command> [args]

commands:
  books                      list every book
  search <query>             search title, author and genre
  checkout <book-id> <user>  lend a book to a member
  return <loan-id>           close a loan
  overdue                    list overdue loans
  penalties <user-id>        total late fees of a user
`

func main() {
	_ = godotenv.Load()
	cfg := config.LoadClient()

	url := flag.String("url", cfg.URL, "librarian API base URL")
	user := flag.String("user", cfg.Username, "staff username")
	password := flag.String("password", cfg.Password, "staff password")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := clients.New(*url, clients.WithCredentials(*user, *password))
	if err := run(ctx, client, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "libctl: %v\n", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid usage")

func run(ctx context.Context, c *clients.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "books":
		books, err := c.ListBooks(ctx)
		if err != nil {
			return err
		}
		return printBooks(out, books)
	case "search":
		if len(rest) != 1 {
			return fmt.Errorf("%w: search takes one query", errUsage)
		}
		books, err := c.Search(ctx, rest[0])
		if err != nil {
			return err
		}
		return printBooks(out, books)
	case "checkout":
		if len(rest) != 2 {
			return fmt.Errorf("%w: checkout takes a book id and a user id", errUsage)
		}
		loan, err := c.Checkout(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		return printLoans(out, []circulation.LoanView{*loan})
	case "return":
		if len(rest) != 1 {
			return fmt.Errorf("%w: return takes a loan id", errUsage)
		}
		loan, err := c.Return(ctx, rest[0])
		if err != nil {
			return err
		}
		return printLoans(out, []circulation.LoanView{*loan})
	case "overdue":
		loans, err := c.OverdueLoans(ctx)
		if err != nil {
			return err
		}
		return printLoans(out, loans)
	case "penalties":
		if len(rest) != 1 {
			return fmt.Errorf("%w: penalties takes a user id", errUsage)
		}
		p, err := c.Penalties(ctx, rest[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "%s\t%.2f\n", p.UserID, p.Total)
		return err
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func printBooks(out io.Writer, books []catalog.BookView) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR\tYEAR\tGENRE\tQTY\tAVAILABLE")
	for _, b := range books {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%t\n", b.ID, b.Title, b.Author, b.PublicationYear, b.Genre, b.Quantity, b.Available)
	}
	return tw.Flush()
}

func printLoans(out io.Writer, loans []circulation.LoanView) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBOOK\tUSER\tLOANED\tDUE\tRETURNED\tPENALTY\tSTATUS")
	for _, l := range loans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\n", l.ID, l.BookID, l.UserID, l.LoanDate, l.DueDate, l.ReturnDate, l.Penalty, l.Status)
	}
	return tw.Flush()
}
