package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stashd/internal/processor"
	"stashd/internal/store"
)

func jobCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Enqueue and cancel jobs",
	}
	cmd.AddCommand(jobEnqueueCmd(cfgPath), jobCancelCmd(cfgPath))
	return cmd
}

func jobEnqueueCmd(cfgPath *string) *cobra.Command {
	var (
		jobType     string
		accounts    []string
		allAccounts bool
		destination string
		owner       string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a manual backup or restore job (runs on the next pass)",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			set := store.ExplicitAccounts(accounts...)
			if allAccounts {
				set = store.AllAccounts()
			}
			job, err := a.proc.Enqueue(context.Background(), processor.JobSpec{
				Type:          store.JobType(jobType),
				Accounts:      set,
				DestinationID: destination,
				Owner:         owner,
			})
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", "backup", "job type: backup or restore")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "account to include (repeatable)")
	cmd.Flags().BoolVar(&allAccounts, "all", false, "include every account the owner can access")
	cmd.Flags().StringVar(&destination, "destination", "", "destination id")
	cmd.Flags().StringVar(&owner, "owner", "", "owning principal (required with --all)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func jobCancelCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.proc.RequestCancel(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("cancellation requested:", args[0])
			return nil
		},
	}
}

func scheduleCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring backup schedules",
	}
	cmd.AddCommand(scheduleAddCmd(cfgPath), scheduleRemoveCmd(cfgPath))
	return cmd
}

func scheduleAddCmd(cfgPath *string) *cobra.Command {
	var (
		owner       string
		accounts    []string
		allAccounts bool
		destination string
		frequency   string
		hour        int
		dayOfWeek   int
		retention   int
	)
	cmd := &cobra.Command{
		Use:   "add <schedule-id>",
		Short: "Create an enabled schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			set := store.ExplicitAccounts(accounts...)
			if allAccounts {
				set = store.AllAccounts()
			}
			sched := &store.Schedule{
				ID:            args[0],
				Owner:         owner,
				Accounts:      set,
				DestinationID: destination,
				Frequency:     store.Frequency(frequency),
				PreferredHour: hour,
				DayOfWeek:     dayOfWeek,
				Retention:     retention,
				Enabled:       true,
			}
			if err := a.proc.CreateSchedule(context.Background(), sched); err != nil {
				return err
			}
			return printJSON(sched)
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owning principal")
	cmd.Flags().StringSliceVar(&accounts, "account", nil, "account to include (repeatable)")
	cmd.Flags().BoolVar(&allAccounts, "all", false, "resolve the owner's accounts on every run")
	cmd.Flags().StringVar(&destination, "destination", "", "destination id")
	cmd.Flags().StringVar(&frequency, "frequency", "daily", "hourly, daily, weekly or monthly")
	cmd.Flags().IntVar(&hour, "hour", 0, "preferred hour (0-23, daily/weekly)")
	cmd.Flags().IntVar(&dayOfWeek, "day-of-week", 0, "0=Sunday..6=Saturday (weekly)")
	cmd.Flags().IntVar(&retention, "retention", 0, "artifacts kept per account, 0 = unlimited")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func scheduleRemoveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <schedule-id>",
		Short: "Delete a schedule (its artifacts are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.proc.DeleteSchedule(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("schedule deleted:", args[0])
			return nil
		},
	}
}
