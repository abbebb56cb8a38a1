// Command inspect prints the accounts and conversations held by a relay store.
// Run it while the relay is stopped: Badger allows a single process per directory.
package main

import (
	"chat-relay/contract"
	"chat-relay/repositories"
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"
)

type options struct {
	driver     string
	badgerPath string
	dsn        string
	user       string
	peer       string
	format     string
	noColor    bool
}

func main() {
	var opts options
	pflag.StringVar(&opts.driver, "driver", repositories.DriverBadger, "store driver: badger, sqlite or mysql")
	pflag.StringVar(&opts.badgerPath, "db", "", "path to the badger directory")
	pflag.StringVar(&opts.dsn, "dsn", "", "SQL data source name")
	pflag.StringVarP(&opts.user, "user", "u", "", "show this user's conversation with --peer")
	pflag.StringVarP(&opts.peer, "peer", "p", "", "other side of the conversation")
	pflag.StringVarP(&opts.format, "format", "f", formatTable, "output format: table or yaml")
	pflag.BoolVar(&opts.noColor, "no-color", false, "disable colors")
	pflag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, color.Red.Sprintf("inspect: %v", err))
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) error {
	if opts.driver == repositories.DriverBadger && opts.badgerPath == "" {
		return fmt.Errorf("--db is required with the badger driver")
	}
	if (opts.user == "") != (opts.peer == "") {
		return fmt.Errorf("--user and --peer go together")
	}
	color.Enable = !opts.noColor

	gateway, err := repositories.OpenGateway(opts.driver, opts.badgerPath, opts.dsn, logs.GetLoggerFromString("ERROR"))
	if err != nil {
		return err
	}
	defer gateway.Close()

	return inspect(gateway, opts, out)
}

func inspect(gateway contract.PersistenceGateway, opts options, out io.Writer) error {
	printer, err := newPrinter(opts.format, out)
	if err != nil {
		return err
	}
	if opts.user != "" {
		conversation, err := loadConversation(gateway, opts.user, opts.peer)
		if err != nil {
			return err
		}
		return printer.conversation(opts.user, opts.peer, conversation)
	}
	accounts, err := loadAccounts(gateway)
	if err != nil {
		return err
	}
	return printer.accounts(accounts)
}
