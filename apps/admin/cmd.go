package main

import (
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	usrSvc   *user.Service
	trackSvc *track.Service
	validate *validator.Validate
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME [-email EMAIL] [-admin] - create or update an account; the password is prompted next")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset an account's password")
	fmt.Println("  seedgroups -year YEAR -count N [-unit UNIT] - create student groups for a study year")
	fmt.Println("  backfill - force the attendance year/group backfill")
	fmt.Println("  retry - push unsynced records to the remote store")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The account's username.")
	addUserEmail := addUserCmd.String("email", "", "The account's email (optional).")
	addUserAdmin := addUserCmd.Bool("admin", false, "Grant all roles instead of trainer only.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The account's username or email. The password will be prompted next.")

	seedGroupsCmd := flag.NewFlagSet("seedgroups", flag.ExitOnError)
	seedGroupsYear := seedGroupsCmd.Int("year", 0, "Study year, 1 through 6.")
	seedGroupsCount := seedGroupsCmd.Int("count", 1, "Number of groups to create.")
	seedGroupsUnit := seedGroupsCmd.String("unit", "", "Current curriculum unit, years 2/3 only (e.g. MSK, GIT).")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			if err == errHelp {
				addUserCmd.Usage()
			}
			return err
		}
		return cli.addUser(*addUserUname, *addUserEmail, pwd, *addUserAdmin)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			if err == errHelp {
				resetPasswordCmd.Usage()
			}
			return err
		}
		return cli.resetPassword(*resetPasswordUname, pwd)
	case "seedgroups":
		if err := seedGroupsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *seedGroupsYear == 0 {
			seedGroupsCmd.Usage()
			return errHelp
		}
		return cli.seedGroups(*seedGroupsYear, *seedGroupsCount, *seedGroupsUnit)
	case "backfill":
		cli.trackSvc.Backfill()
		return nil
	case "retry":
		return cli.retryUnsynced()
	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errHelp
	}
	return string(pwd), nil
}
