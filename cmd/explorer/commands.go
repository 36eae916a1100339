package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cppla/districtwars/game"
	"github.com/cppla/districtwars/geo"
	"github.com/cppla/districtwars/profile"
)

func signinCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "signin <username>",
		Short: "Sign in locally as a player",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			p, err := a.engine.SignIn(ctx, args[0])
			if errors.Is(err, game.ErrInvalidUsername) {
				return fmt.Errorf("%q: use 3-32 letters, digits or underscores", args[0])
			}
			if err != nil {
				return err
			}
			a.printf("Signed in as %s (%d pts).\n", p.Username, p.Points)
			return nil
		}),
	}
}

func statusCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current player's profile and cooldown",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			p := a.engine.Profile(user)
			state, left := a.engine.Cooldown(user)
			a.printf("Player:   %s\n", p.Username)
			a.printf("Points:   %d (attack %d, defend %d)\n", p.Points, p.AttackPoints, p.DefendPoints)
			a.printf("Home:     %s\n", p.HomeLabel())
			a.printf("Cooldown: %s", state)
			if left > 0 {
				a.printf(" (%s left)", left.Round(time.Second))
			}
			a.printf("\n")
			if p.NextCheckinMultiplier > 1 {
				a.printf("Charged:  next check-in x%d\n", p.NextCheckinMultiplier)
			}
			if loc := a.engine.CurrentDistrict(user, false); loc != nil {
				a.printf("Location: %s (%s)\n", loc.Name, loc.Source)
			}
			if s := a.syncSummary(); s != "" {
				a.printf("Remote:   %s\n", s)
			}
			printHistory(a, p.Checkins)
			return nil
		}),
	}
}

func (a *app) syncSummary() string {
	if a.sync == nil {
		return ""
	}
	s := a.sync.Session()
	if !s.Authenticated {
		return "offline"
	}
	return fmt.Sprintf("signed in as %s (#%d)", s.Username, s.BackendID)
}

func printHistory(a *app, entries []profile.CheckinEntry) {
	if len(entries) == 0 {
		return
	}
	a.printf("\nRecent check-ins:\n")
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		mode := ""
		switch {
		case e.Melee:
			mode = "melee"
		case e.Ranged:
			mode = "ranged"
		}
		name := e.DistrictName
		if name == "" {
			name = geo.District{ID: e.DistrictID}.Label()
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\tx%d\t%s\n",
			time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04"), e.Type, name, e.Multiplier, mode)
	}
	_ = w.Flush()
}

// ambientFlags are the position hints shared by check-in style commands.
type ambientFlags struct {
	lng, lat    string
	mapDistrict string
	mapName     string
}

func (f *ambientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.lng, "lng", "", "live longitude")
	cmd.Flags().StringVar(&f.lat, "lat", "", "live latitude")
	cmd.Flags().StringVar(&f.mapDistrict, "map", "", "district id picked on the map")
	cmd.Flags().StringVar(&f.mapName, "map-name", "", "display name of the map district")
}

// apply feeds the hints to the engine before a command runs.
func (f *ambientFlags) apply(ctx context.Context, a *app, user string) error {
	if f.mapDistrict != "" {
		a.engine.UpdateMapDistrict(user, f.mapDistrict, f.mapName)
	}
	if f.lng == "" && f.lat == "" {
		return nil
	}
	if f.lng == "" || f.lat == "" {
		return errors.New("--lng and --lat must be given together")
	}
	lng, err := parseFloat("lng", f.lng)
	if err != nil {
		return err
	}
	lat, err := parseFloat("lat", f.lat)
	if err != nil {
		return err
	}
	_, err = a.engine.UpdateLiveLocation(ctx, user, game.Coords{Lng: lng, Lat: lat})
	return err
}

func locateCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "locate <lng> <lat>",
		Short: "Record a GPS fix and show the district it falls in",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			f := ambientFlags{lng: args[0], lat: args[1]}
			if err := f.apply(ctx, a, user); err != nil {
				return err
			}
			loc := a.engine.CurrentDistrict(user, false)
			if loc == nil {
				a.printf("Outside every known district.\n")
				return nil
			}
			a.printf("You are in %s (%s).\n", loc.Name, loc.Source)
			return nil
		}),
	}
}

func printResult(a *app, res game.Result) error {
	a.printf("%s\n", res.Status)
	if !res.Accepted {
		return errRejected
	}
	if res.DistrictID != "" && res.LedgerDelta != 0 {
		a.printf("%s strength: %d\n", res.DistrictName, a.engine.Strength(res.DistrictID))
	}
	return nil
}

// errRejected makes rejected commands exit non-zero without repeating the reason.
var errRejected = errors.New("command rejected")

func checkinCmd(run runner) *cobra.Command {
	var amb ambientFlags
	var target, targetName, ctxLng, ctxLat string
	var local bool
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Attack or defend the district you are in",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			if err := amb.apply(ctx, a, user); err != nil {
				return err
			}
			c := game.CheckInCommand{
				Username:           user,
				TargetDistrictID:   target,
				TargetDistrictName: targetName,
				ContextIsLocal:     local,
			}
			if ctxLng != "" || ctxLat != "" {
				lng, err := parseFloat("context-lng", ctxLng)
				if err != nil {
					return err
				}
				lat, err := parseFloat("context-lat", ctxLat)
				if err != nil {
					return err
				}
				c.ContextCoords = &game.Coords{Lng: lng, Lat: lat}
			}
			res, err := a.engine.CheckIn(ctx, c)
			if err != nil {
				return err
			}
			return printResult(a, res)
		}),
	}
	amb.register(cmd)
	cmd.Flags().StringVar(&target, "target", "", "district id to check in to (defaults to your location)")
	cmd.Flags().StringVar(&targetName, "target-name", "", "display name of the target district")
	cmd.Flags().StringVar(&ctxLng, "context-lng", "", "longitude the target was picked at")
	cmd.Flags().StringVar(&ctxLat, "context-lat", "", "latitude the target was picked at")
	cmd.Flags().BoolVar(&local, "local", false, "the target was picked from your own position")
	return cmd
}

func chargeCmd(run runner) *cobra.Command {
	var amb ambientFlags
	cmd := &cobra.Command{
		Use:   "charge",
		Short: "Charge your next check-in for triple points",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			if err := amb.apply(ctx, a, user); err != nil {
				return err
			}
			res, err := a.engine.Charge(ctx, user)
			if err != nil {
				return err
			}
			return printResult(a, res)
		}),
	}
	amb.register(cmd)
	return cmd
}

func attackCmd(run runner) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "attack [district-id]",
		Short: "Ranged attack on a district; defaults to your last known one",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			c := game.RangedAttackCommand{Username: user, DistrictName: name}
			if len(args) == 1 {
				c.DistrictID = args[0]
			}
			res, err := a.engine.RangedAttack(ctx, c)
			if err != nil {
				return err
			}
			return printResult(a, res)
		}),
	}
	cmd.Flags().StringVar(&name, "name", "", "display name of the district")
	return cmd
}

func homeCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "home [district-id]",
		Short: "Set your home district; without an id it is cleared",
		Args:  cobra.MaximumNArgs(1),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			res, err := a.engine.SetHomeDistrict(ctx, user, id)
			if err != nil {
				return err
			}
			return printResult(a, res)
		}),
	}
}

func historyCmd(run runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear your check-in history",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			p := a.engine.Profile(user)
			if len(p.Checkins) == 0 {
				a.printf("No check-ins yet.\n")
				return nil
			}
			printHistory(a, p.Checkins)
			return nil
		}),
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear your check-in history; points are kept",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			res, err := a.engine.ClearHistory(ctx, user)
			if err != nil {
				return err
			}
			a.printf("%s\n", res.Status)
			return nil
		}),
	})
	return cmd
}

func skipCooldownCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:       "skip-cooldown <on|off>",
		Short:     "Toggle the cooldown bypass (dev accounts only)",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			user, err := a.user(ctx)
			if err != nil {
				return err
			}
			var skip bool
			switch strings.ToLower(args[0]) {
			case "on", "true", "1":
				skip = true
			case "off", "false", "0":
			default:
				return fmt.Errorf("expected on or off, got %q", args[0])
			}
			res, err := a.engine.SetSkipCooldown(ctx, user, skip)
			if err != nil {
				return err
			}
			return printResult(a, res)
		}),
	}
}

func standingsCmd(run runner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "standings",
		Short: "Rank districts by local strength",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, a *app, _ []string) error {
			rows := a.engine.Standings(limit)
			if len(rows) == 0 {
				a.printf("No district has been contested yet.\n")
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tDISTRICT\tSTRENGTH\tDEFENDED\tATTACKED\tSTATUS")
			for i, s := range rows {
				name := s.Name
				if name == "" {
					name = geo.District{ID: s.ID}.Label()
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n", i+1, name, s.Score, s.Defended, s.Attacked, s.Status)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "rows to show; 0 shows all")
	return cmd
}

func districtsCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "districts",
		Short: "List the districts from the boundary source",
		Args:  cobra.NoArgs,
		RunE: run(func(_ context.Context, a *app, _ []string) error {
			if a.geo == nil {
				return errors.New("no boundary source; pass --districts or set DISTRICTS_SOURCE")
			}
			list, err := a.geo.Districts()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTRENGTH")
			for _, d := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, d.Label(), a.engine.Strength(d.ID))
			}
			return w.Flush()
		}),
	}
}

func loginCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "login <username> <password>",
		Short: "Sign in to the remote API; local changes sync from now on",
		Args:  cobra.ExactArgs(2),
		RunE: run(func(ctx context.Context, a *app, args []string) error {
			if a.sync == nil {
				return errors.New("no remote API configured; pass --api or set DISTRICTWARS_API")
			}
			s, doc, err := a.sync.Login(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if err := a.kv.Set(ctx, sessionKey, []byte(s.Token)); err != nil {
				return err
			}
			if err := a.adopt(ctx, s, doc); err != nil {
				return err
			}
			a.printf("Signed in to the server as %s.\n", s.Username)
			return nil
		}),
	}
}

func logoutCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the remote API",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			if a.sync == nil {
				return errors.New("no remote API configured")
			}
			s := a.sync.Session()
			err := a.sync.Logout(ctx)
			a.forgetSession(s)
			if err != nil {
				a.printf("Signed out locally; the server could not be reached.\n")
				return nil
			}
			a.printf("Signed out.\n")
			return nil
		}),
	}
}

func leaderboardCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the server leaderboard",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			if a.sync == nil {
				return errors.New("no remote API configured")
			}
			lb, err := a.sync.Leaderboard(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPLAYER\tSCORE\tATTACK\tDEFEND\tHOME")
			for i, p := range lb.Players {
				name := p.DisplayName
				if name == "" {
					name = p.Username
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n", i+1, name, p.Score, p.AttackPoints, p.DefendPoints, p.HomeDistrict)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "#\tDISTRICT\tSTRENGTH\tSTATUS\t24H")
			for i, d := range lb.Districts {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%+d\n", i+1, d.Name, d.Score, d.Status, d.RecentChange)
			}
			return w.Flush()
		}),
	}
}

func resetCmd(run runner) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every local player and district score",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, a *app, _ []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			if err := a.engine.BulkReset(ctx); err != nil {
				return err
			}
			a.printf("%s\n", a.engine.Status())
			return nil
		}),
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
