// Create user with any role, e.g. the first admin
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/labtrack/internal/db"
	"github.com/nkiryanov/labtrack/internal/logger"
	"github.com/nkiryanov/labtrack/internal/models"
	"github.com/nkiryanov/labtrack/internal/repository/postgres"
	"github.com/nkiryanov/labtrack/internal/service/user"
)

type options struct {
	DatabaseDSN string
	Params      user.CreateUserParams
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Getenv, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "user not created: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, getenv func(string) string, args []string, out io.Writer) error {
	opts, err := parseOptions(getenv, args)
	if err != nil {
		return err
	}

	pool, err := db.ConnectAndMigrate(ctx, opts.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	defer pool.Close()

	users := user.NewService(user.Config{Logger: logger.NewNoOpLogger()}, postgres.NewStorage(pool))

	u, err := users.CreateUser(ctx, opts.Params)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "created %s %s (%s)\n", u.Role, u.Username, u.ID)
	return err
}

// Password is read from LABTRACK_PASSWORD, so it doesn't get to shell history
func parseOptions(getenv func(string) string, args []string) (options, error) {
	opts := options{DatabaseDSN: getenv("DATABASE_URI")}
	role := string(models.RoleAdmin)

	fs := pflag.NewFlagSet("createuser", pflag.ContinueOnError)
	fs.StringVarP(&opts.DatabaseDSN, "database", "d", opts.DatabaseDSN, "Database connection string")
	fs.StringVarP(&opts.Params.Username, "username", "u", "", "Username")
	fs.StringVar(&opts.Params.Email, "email", "", "Email")
	fs.StringVar(&opts.Params.FirstName, "first-name", "", "First name")
	fs.StringVar(&opts.Params.LastName, "last-name", "", "Last name")
	fs.StringVarP(&role, "role", "r", role, "Role (admin, project_coordinator, lab_engg, welding_coordinator)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.Params.Role = models.Role(role)
	opts.Params.Password = getenv("LABTRACK_PASSWORD")

	var errs []error
	if opts.DatabaseDSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}
	if opts.Params.Username == "" || opts.Params.Email == "" {
		errs = append(errs, errors.New("username and email are required"))
	}
	if opts.Params.Password == "" {
		errs = append(errs, errors.New("LABTRACK_PASSWORD must be set"))
	}
	if !opts.Params.Role.Valid() {
		errs = append(errs, fmt.Errorf("unknown role %q", role))
	}

	return opts, errors.Join(errs...)
}
