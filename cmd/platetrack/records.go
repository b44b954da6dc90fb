package main

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/plate"
)

func (a *app) normalizer() (*plate.Normalizer, error) {
	g, err := a.tuning.Grammar()
	if err != nil {
		return nil, err
	}
	return plate.NewNormalizer(g)
}

func (a *app) cmdAllow(ctx context.Context, args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(a.out, "Usage: platetrack allow add|list|remove ...")
		return errUsage
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	switch args[0] {
	case "add":
		return a.allowAdd(ctx, database, args[1:])
	case "list":
		return a.allowList(ctx, database)
	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(a.out, "Usage: platetrack allow remove <plate>")
			return errUsage
		}
		n, err := a.normalizer()
		if err != nil {
			return err
		}
		p, _ := n.Normalize(args[1])
		removed, err := database.RemoveAllowedVehicle(ctx, p)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%s is not on the allow-list", p)
		}
		fmt.Fprintf(a.out, "Removed %s\n", p)
		return nil
	default:
		fmt.Fprintf(a.out, "Unknown allow action: %s\n", args[0])
		return errUsage
	}
}

func (a *app) allowAdd(ctx context.Context, database *db.DB, args []string) error {
	fs := flag.NewFlagSet("allow add", flag.ContinueOnError)
	fs.SetOutput(a.out)
	owner := fs.String("owner", "", "Owner name")
	vtype := fs.String("type", "", "Vehicle type, e.g. Car or Bike")
	notes := fs.String("notes", "", "Free-form notes")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(a.out, "Usage: platetrack allow add [-owner name] [-type type] [-notes text] <plate>")
		return errUsage
	}

	n, err := a.normalizer()
	if err != nil {
		return err
	}
	p, valid := n.Normalize(fs.Arg(0))
	if p == "" {
		return fmt.Errorf("cannot read a plate from %q", fs.Arg(0))
	}
	if !valid {
		fmt.Fprintf(a.out, "warning: %s does not match the plate format\n", p)
	}

	v := &db.AllowedVehicle{Plate: p, OwnerName: *owner, VehicleType: *vtype, Notes: *notes}
	if err := database.AddAllowedVehicle(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", p)
	return nil
}

func (a *app) allowList(ctx context.Context, database *db.DB) error {
	vehicles, err := database.AllowedVehicles(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATE\tOWNER\tTYPE\tNOTES\tADDED")
	for _, v := range vehicles {
		added := time.Unix(0, v.AddedUnixNanos).Format("2006-01-02 15:04:05")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Plate, v.OwnerName, v.VehicleType, v.Notes, added)
	}
	return tw.Flush()
}

func (a *app) cmdLog(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	fs.SetOutput(a.out)
	limit := fs.Int("n", 20, "Number of detections to show")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	detections, err := database.RecentDetections(ctx, *limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLATE\tTRACK\tSOURCE\tCONFIDENCE\tDETECTED")
	for _, d := range detections {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\t%s\n",
			d.Plate, d.TrackID, d.Source, d.Confidence, d.DetectedAt().Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func (a *app) cmdCheck(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(a.out, "Usage: platetrack check <plate text>")
		return errUsage
	}

	n, err := a.normalizer()
	if err != nil {
		return err
	}
	p, valid := n.Normalize(args[0])
	fmt.Fprintf(a.out, "Plate: %q (valid: %v)\n", p, valid)
	if p == "" {
		return nil
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	v, ok, err := database.LookupAllowed(ctx, p)
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(a.out, "Status: allowed (owner %q, type %q)\n", v.OwnerName, v.VehicleType)
	} else {
		fmt.Fprintln(a.out, "Status: unknown")
	}

	d, err := database.GetDetection(ctx, p)
	if err != nil {
		return err
	}
	if d != nil {
		fmt.Fprintf(a.out, "First confirmed: %s by %s (track %d)\n",
			d.DetectedAt().Format(time.RFC3339), d.Source, d.TrackID)
	}
	return nil
}
