package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/placenote/placenote/internal/core/engine"
	"github.com/placenote/placenote/internal/injector"
)

func init() {
	rootCmd.AddCommand(mapsCmd)
	mapsCmd.AddCommand(mapsListCmd, mapsSearchCmd, mapsDeleteCmd, mapsMetaCmd)
	mapsMetaCmd.AddCommand(metaGetCmd, metaSetCmd)

	f := mapsSearchCmd.Flags()
	f.StringVar(&searchFlags.name, "name", "", "name substring, case-insensitive")
	f.StringVar(&searchFlags.near, "near", "", "lat,lng,radius_meters")
	f.StringVar(&searchFlags.after, "after", "", "created after (RFC 3339)")
	f.StringVar(&searchFlags.before, "before", "", "created before (RFC 3339)")
	f.StringVar(&searchFlags.userdata, "userdata", "", "user data filter, e.g. floor.level=2&&tag=lobby")

	f = metaSetCmd.Flags()
	f.StringVar(&metaFlags.name, "name", "", "map name")
	f.StringVar(&metaFlags.location, "location", "", "lat,lng[,alt]")
	f.StringVar(&metaFlags.userdata, "userdata", "", "user data JSON document")
}

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "Manage maps stored on the server",
}

var mapsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all maps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return listMaps(cmd, func(c *injector.Client, cb func([]engine.MapInfo, error)) error {
			return c.Manager.ListMaps(cb)
		})
	},
}

var searchFlags struct {
	name, near, after, before, userdata string
}

var mapsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "List maps matching every given criterion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		query, err := parseQuery()
		if err != nil {
			return err
		}
		return listMaps(cmd, func(c *injector.Client, cb func([]engine.MapInfo, error)) error {
			return c.Manager.SearchMaps(query, cb)
		})
	},
}

var mapsDeleteCmd = &cobra.Command{
	Use:   "delete MAP_ID",
	Short: "Delete a map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *injector.Client, finish func(error)) error {
			return c.Manager.DeleteMap(args[0], doneFunc(cmd.OutOrStdout(), "Deleted "+args[0], finish))
		})
	},
}

var mapsMetaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Read or replace map metadata",
}

var metaGetCmd = &cobra.Command{
	Use:   "get MAP_ID",
	Short: "Print the metadata of a map as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *injector.Client, finish func(error)) error {
			return c.Manager.GetMetadata(args[0], func(meta engine.MapMetadata, err error) {
				if err != nil {
					finish(err)
					return
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				finish(enc.Encode(meta))
			})
		})
	},
}

var metaFlags struct {
	name, location, userdata string
}

var metaSetCmd = &cobra.Command{
	Use:   "set MAP_ID",
	Short: "Replace the name, location and user data of a map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta := engine.MapMetadata{Name: metaFlags.name}
		if metaFlags.location != "" {
			v, err := parseFloats(metaFlags.location, 2, 3)
			if err != nil {
				return fmt.Errorf("location: %w", err)
			}
			meta.Location = &engine.Location{Latitude: v[0], Longitude: v[1]}
			if len(v) == 3 {
				meta.Location.Altitude = v[2]
			}
		}
		if metaFlags.userdata != "" {
			meta.UserData = json.RawMessage(metaFlags.userdata)
		}
		return withClient(cmd, func(c *injector.Client, finish func(error)) error {
			return c.Manager.SetMetadata(args[0], meta, doneFunc(cmd.OutOrStdout(), "Updated "+args[0], finish))
		})
	},
}

// withClient connects, runs op and waits for it to call finish.
func withClient(cmd *cobra.Command, op func(c *injector.Client, finish func(error)) error) error {
	c, cleanup, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()
	return await(cmd.Context(), c, func(finish func(error)) error {
		return op(c, finish)
	})
}

func listMaps(cmd *cobra.Command, op func(c *injector.Client, cb func([]engine.MapInfo, error)) error) error {
	return withClient(cmd, func(c *injector.Client, finish func(error)) error {
		return op(c, func(maps []engine.MapInfo, err error) {
			if err != nil {
				finish(err)
				return
			}
			finish(printMaps(cmd.OutOrStdout(), maps))
		})
	})
}

func printMaps(out io.Writer, maps []engine.MapInfo) error {
	if len(maps) == 0 {
		_, err := fmt.Fprintln(out, "No maps found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tLOCATION\tCREATED")
	for _, m := range maps {
		loc := "-"
		if l := m.Metadata.Location; l != nil {
			loc = fmt.Sprintf("%.5f,%.5f", l.Latitude, l.Longitude)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			m.PlaceID,
			m.Metadata.Name,
			loc,
			m.Metadata.Created.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func doneFunc(out io.Writer, msg string, finish func(error)) func(bool, string) {
	return func(success bool, reason string) {
		if !success {
			finish(errors.New(reason))
			return
		}
		_, err := fmt.Fprintln(out, msg)
		finish(err)
	}
}

func parseQuery() (engine.SearchQuery, error) {
	q := engine.SearchQuery{Name: searchFlags.name, UserData: searchFlags.userdata}
	if searchFlags.near != "" {
		v, err := parseFloats(searchFlags.near, 3, 3)
		if err != nil {
			return q, fmt.Errorf("near: %w", err)
		}
		q.Near = &engine.GeoRadius{Latitude: v[0], Longitude: v[1], RadiusMeters: v[2]}
	}
	var err error
	if q.CreatedAfter, err = parseTime(searchFlags.after); err != nil {
		return q, fmt.Errorf("after: %w", err)
	}
	if q.CreatedBefore, err = parseTime(searchFlags.before); err != nil {
		return q, fmt.Errorf("before: %w", err)
	}
	return q, q.Validate()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// parseFloats reads a comma separated list of between lo and hi numbers.
func parseFloats(s string, lo, hi int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) < lo || len(parts) > hi {
		return nil, fmt.Errorf("want %d to %d comma separated numbers, got %q", lo, hi, s)
	}
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
