package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/danmuck/bankwire/internal/client"
	"github.com/danmuck/bankwire/internal/logging"
	"github.com/danmuck/bankwire/internal/protocol/message"
	"github.com/danmuck/bankwire/internal/transport"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "bankctl",
	Short:         "Talk to a bankd server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var registerCmd = &cobra.Command{
	Use:   "register <account-id>",
	Short: "Create an account and print it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseU32("account-id", args[0])
		if err != nil {
			return err
		}
		password, _ := cmd.Flags().GetString("password")
		name, _ := cmd.Flags().GetString("name")
		phone, _ := cmd.Flags().GetString("phone")
		return withClient(cmd, func(ctx context.Context, c *client.Client) error {
			acct, err := c.Register(ctx, id, password, name, phone)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check credentials and print the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *client.Client, acct message.AccountView) error {
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		})
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <amount>",
	Short: "Add funds to the logged-in account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseU32("amount", args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, c *client.Client, _ message.AccountView) error {
			acct, err := c.Deposit(ctx, amount)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		})
	},
}

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <amount>",
	Short: "Remove funds from the logged-in account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := parseU32("amount", args[0])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, c *client.Client, _ message.AccountView) error {
			acct, err := c.Withdraw(ctx, amount)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		})
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <target-id> <amount>",
	Short: "Move funds to another account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := parseU32("target-id", args[0])
		if err != nil {
			return err
		}
		amount, err := parseU32("amount", args[1])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, c *client.Client, _ message.AccountView) error {
			acct, err := c.Transfer(ctx, target, amount)
			if err != nil {
				return err
			}
			printAccount(cmd.OutOrStdout(), acct)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List trade records touching the logged-in account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, c *client.Client, _ message.AccountView) error {
			info, err := c.History(ctx)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), info)
			return nil
		})
	},
}

func dialOptions(cmd *cobra.Command) (client.DialOptions, error) {
	opts := client.DefaultDialOptions()
	flags := cmd.Flags()
	caFile, _ := flags.GetString("ca-file")
	serverName, _ := flags.GetString("server-name")
	insecure, _ := flags.GetBool("insecure")
	attempts, _ := flags.GetInt("attempts")
	timeout, _ := flags.GetDuration("timeout")
	if caFile == "" && !insecure {
		return opts, errors.New("bankctl: --ca-file is required unless --insecure is set")
	}
	opts.TLS = transport.ClientTLSOptions{CAFile: caFile, ServerName: serverName, InsecureSkipVerify: insecure}
	opts.MaxAttempts = attempts
	opts.RequestTimeout = timeout
	return opts, nil
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client) error) error {
	opts, err := dialOptions(cmd)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("addr")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := client.Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// withSession logs in with --account and --password before running fn.
func withSession(cmd *cobra.Command, fn func(ctx context.Context, c *client.Client, acct message.AccountView) error) error {
	id, _ := cmd.Flags().GetUint32("account")
	password, _ := cmd.Flags().GetString("password")
	if id == 0 && !cmd.Flags().Changed("account") {
		return errors.New("bankctl: --account is required")
	}
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		acct, err := c.Login(ctx, id, password)
		if err != nil {
			return err
		}
		return fn(ctx, c, acct)
	})
}

func parseU32(name, raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("bankctl: invalid %s %q: %w", name, raw, err)
	}
	return uint32(v), nil
}

func printAccount(w io.Writer, acct message.AccountView) {
	fmt.Fprintf(w, "account  %d\n", acct.ID)
	fmt.Fprintf(w, "name     %s\n", acct.Name)
	fmt.Fprintf(w, "phone    %s\n", acct.Phone)
	fmt.Fprintf(w, "balance  %d\n", acct.Balance)
}

func printHistory(w io.Writer, info message.Info) {
	printAccount(w, info.Account)
	fmt.Fprintf(w, "page     %d/%d\n", info.CurrentPage, info.TotalPage)
	for _, r := range info.Records {
		fmt.Fprintf(w, "%6d  %s  %-10s -> %-10d %+d\n",
			r.TID, r.Time.Local().Format(time.DateTime), r.Sender, r.Receiver, r.Amount)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("addr", "127.0.0.1:7878", "bankd QUIC address (host:port)")
	pf.String("ca-file", "", "CA bundle used to verify the server certificate")
	pf.String("server-name", "", "TLS server name (defaults to the address host)")
	pf.Bool("insecure", false, "skip server certificate verification")
	pf.Int("attempts", 5, "dial attempts before giving up")
	pf.Duration("timeout", client.DefaultRequestTimeout, "per-request timeout")
	pf.String("password", "", "account password")

	for _, cmd := range []*cobra.Command{loginCmd, depositCmd, withdrawCmd, transferCmd, historyCmd} {
		cmd.Flags().Uint32("account", 0, "account id to log in as")
	}
	registerCmd.Flags().String("name", "", "account holder name (at most 60 bytes)")
	registerCmd.Flags().String("phone", "", "phone number (at most 20 bytes)")

	rootCmd.AddCommand(registerCmd, loginCmd, depositCmd, withdrawCmd, transferCmd, historyCmd)
}

func main() {
	logging.ConfigureRuntime()
	if err := rootCmd.Execute(); err != nil {
		var notice *client.NoticeError
		if errors.As(err, &notice) {
			fmt.Fprintf(os.Stderr, "bankctl: %s\n", notice.Message)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "bankctl: %v\n", err)
		os.Exit(1)
	}
}
