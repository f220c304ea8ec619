package main

import (
	"context"
	"fmt"

	"github.com/ahmed-matloob-prog/skill-lab-web-sub005/core/track"
)

// seedGroups bootstraps student groups for a study year so trainers have
// something to register students against.
func (cli *commandLine) seedGroups(year, count int, unit string) error {
	for i := 0; i < count; i++ {
		data := track.NewGroup{Year: track.Year(year), CurrentUnit: unit}
		if err := data.Validate(cli.validate); err != nil {
			return err
		}
		grp, err := cli.trackSvc.AddGroup(data)
		if err != nil {
			return err
		}
		fmt.Printf("created group %s (year %d)\n", grp.ID, grp.Year)
	}
	return nil
}

func (cli *commandLine) retryUnsynced() error {
	if !cli.trackSvc.RemoteEnabled() {
		return fmt.Errorf("no remote store configured")
	}
	n := cli.trackSvc.RetryUnsynced(context.Background())
	fmt.Printf("acknowledged %d record(s)\n", n)
	return nil
}
