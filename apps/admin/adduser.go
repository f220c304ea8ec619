package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core"
	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/user"
)

// addUser updates or creates an account. Existing accounts are reactivated
// with a fresh password and, if requested, promoted to admin.
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) error {
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	roles := []string{user.RoleTrainer}
	if isAdmin {
		roles = user.AllRoles
	}

	usr, err := cli.usrSvc.GetByUsernameOrEmail(uname)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		data := user.NewUser{
			Name:            uname,
			Username:        uname,
			Email:           email,
			Password:        pwd,
			PasswordConfirm: pwd,
			Roles:           roles,
		}
		if err := data.Validate(cli.validate, cli.usrSvc); err != nil {
			return err
		}
		usr, err = cli.usrSvc.Create(data)
		if err != nil {
			return err
		}
		fmt.Printf("created %q\n", usr.Username)
		return nil
	}

	active := true
	_, err = cli.usrSvc.Update(usr.ID, user.UpdateUser{
		IsActive:        &active,
		Roles:           roles,
		Password:        pwd,
		PasswordConfirm: pwd,
	})
	if err != nil {
		return err
	}
	fmt.Printf("updated %q\n", usr.Username)
	return nil
}
