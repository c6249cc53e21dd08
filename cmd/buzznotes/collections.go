package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MarcoPoloResearchLab/buzznotes/internal/apiary"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/audio"
	"github.com/MarcoPoloResearchLab/buzznotes/internal/i18n"
	"github.com/spf13/cobra"
)

type appProvider func() *app

var errNoAudioSource = errors.New("one of --file or --url is required")

func newLocationCommand(current appProvider) *cobra.Command {
	cmd := &cobra.Command{Use: "location", Short: "Manage locations"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			writer := newTable(cmd.OutOrStdout())
			fmt.Fprintln(writer, "ID\tNAME\tBEEHIVES")
			for _, location := range current().state.Locations() {
				fmt.Fprintf(writer, "%s\t%s\t%d\n", location.ID, location.Name, len(current().state.BeehivesByLocation(location.ID)))
			}
			return writer.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "add NAME",
		Short: "Create a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := current().state.AddLocation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), location.ID)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a location",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := current().state.UpdateLocation(cmd.Context(), args[0], args[1])
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a location with its beehives and recordings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := current().state.DeleteLocation(cmd.Context(), args[0])
			return err
		},
	})
	return cmd
}

func newBeehiveCommand(current appProvider) *cobra.Command {
	cmd := &cobra.Command{Use: "beehive", Short: "Manage beehives"}

	var listLocation string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List beehives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := current().state
			beehives := state.Beehives()
			if listLocation != "" {
				beehives = state.BeehivesByLocation(listLocation)
			}
			writer := newTable(cmd.OutOrStdout())
			fmt.Fprintln(writer, "ID\tNAME\tLOCATION\tRECORDINGS")
			for _, beehive := range beehives {
				locationName := beehive.LocationID
				if location, ok := state.LocationByID(beehive.LocationID); ok {
					locationName = location.Name
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n", beehive.ID, beehive.Name, locationName, len(state.RecordingsByBeehive(beehive.ID)))
			}
			return writer.Flush()
		},
	}
	listCmd.Flags().StringVar(&listLocation, "location", "", "Only beehives of this location")
	cmd.AddCommand(listCmd)

	var addLocation string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a beehive in a location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			beehive, err := current().state.AddBeehive(cmd.Context(), args[0], addLocation)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), beehive.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addLocation, "location", "", "Location ID")
	_ = addCmd.MarkFlagRequired("location")
	cmd.AddCommand(addCmd)

	var updateName, updateLocation string
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Rename or move a beehive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state := current().state
			name := updateName
			if !cmd.Flags().Changed("name") {
				existing, ok := state.BeehiveByID(args[0])
				if !ok {
					return &apiary.NotFoundError{Kind: apiary.KindBeehive, ID: args[0]}
				}
				name = existing.Name
			}
			var locationID *string
			if cmd.Flags().Changed("location") {
				locationID = &updateLocation
			}
			_, err := state.UpdateBeehive(cmd.Context(), args[0], name, locationID)
			return err
		},
	}
	updateCmd.Flags().StringVar(&updateName, "name", "", "New name")
	updateCmd.Flags().StringVar(&updateLocation, "location", "", "New location ID")
	cmd.AddCommand(updateCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a beehive with its recordings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := current().state.DeleteBeehive(cmd.Context(), args[0])
			return err
		},
	})
	return cmd
}

func newRecordingCommand(current appProvider) *cobra.Command {
	cmd := &cobra.Command{Use: "recording", Short: "Manage voice recordings"}

	var listBeehive string
	var listRecent int
	var listPriority bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state := current().state
			var recordings []apiary.Recording
			switch {
			case listBeehive != "":
				recordings = state.RecordingsByBeehive(listBeehive)
			case listPriority:
				recordings = state.PriorityRecordings()
			default:
				recordings = state.RecentRecordings()
			}
			if listRecent > 0 && len(recordings) > listRecent {
				recordings = recordings[:listRecent]
			}
			return writeRecordings(cmd.OutOrStdout(), current(), recordings)
		},
	}
	listCmd.Flags().StringVar(&listBeehive, "beehive", "", "Only recordings of this beehive")
	listCmd.Flags().IntVar(&listRecent, "limit", 0, "Show at most this many recordings")
	listCmd.Flags().BoolVar(&listPriority, "by-priority", false, "Order by priority, then newest first")
	cmd.AddCommand(listCmd)

	var addBeehive, addLocation, addPriority, addFile, addURL string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Attach a voice recording to a beehive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := apiary.ParsePriority(addPriority)
			if err != nil {
				return err
			}
			audioURL, err := audioSource(addFile, addURL)
			if err != nil {
				return err
			}
			recording, err := current().state.AddRecording(cmd.Context(), audioURL, addBeehive, addLocation, priority)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), recording.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addBeehive, "beehive", "", "Beehive ID")
	addCmd.Flags().StringVar(&addLocation, "location", "", "Location ID (defaults to the beehive's)")
	addCmd.Flags().StringVar(&addPriority, "priority", apiary.PriorityMedium.String(), "Priority (high, medium, low, solved)")
	addCmd.Flags().StringVar(&addFile, "file", "", "Audio file to import")
	addCmd.Flags().StringVar(&addURL, "url", "", "Audio URL already hosted elsewhere")
	_ = addCmd.MarkFlagRequired("beehive")
	addCmd.MarkFlagsMutuallyExclusive("file", "url")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "priority ID PRIORITY",
		Short: "Change the priority of a recording",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			priority, err := apiary.ParsePriority(args[1])
			if err != nil {
				return err
			}
			_, err = current().state.UpdateRecordingPriority(cmd.Context(), args[0], priority)
			return err
		},
	})

	var playOutput string
	playCmd := &cobra.Command{
		Use:   "play ID",
		Short: "Export a recording's audio and mark it listened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, _, err := current().state.Play(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			output := playOutput
			if output == "" {
				output = args[0] + audio.ExtensionFor(payload.ContentType)
			}
			if err := os.WriteFile(output, payload.Data, 0o644); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	playCmd.Flags().StringVarP(&playOutput, "output", "o", "", "Destination file (defaults to ID plus extension)")
	cmd.AddCommand(playCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := current().state.DeleteRecording(cmd.Context(), args[0])
			return err
		},
	})
	return cmd
}

// audioSource turns --file into an inline data URL or passes --url through.
func audioSource(file string, url string) (string, error) {
	switch {
	case file != "":
		return importAudioFile(file)
	case strings.TrimSpace(url) != "":
		return strings.TrimSpace(url), nil
	default:
		return "", errNoAudioSource
	}
}

func writeRecordings(out io.Writer, current *app, recordings []apiary.Recording) error {
	writer := newTable(out)
	fmt.Fprintln(writer, "ID\tDATE\tPRIORITY\tBEEHIVE\tLAST LISTENED")
	for _, recording := range recordings {
		beehiveName := recording.BeehiveID
		if beehive, ok := current.state.BeehiveByID(recording.BeehiveID); ok {
			beehiveName = beehive.Name
		}
		lastListened := "-"
		if recording.LastListened != nil {
			lastListened = time.UnixMilli(*recording.LastListened).Local().Format("02.01.2006 15:04")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			recording.ID,
			recording.Date,
			current.translator.T(i18n.Key(recording.Priority.TranslationKey())),
			beehiveName,
			lastListened)
	}
	return writer.Flush()
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}
