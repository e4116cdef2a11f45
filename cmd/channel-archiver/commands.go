package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/alanbriolat/channel-archiver"
	"github.com/alanbriolat/channel-archiver/database"
	"github.com/alanbriolat/channel-archiver/internal/lifecycle"
	"github.com/alanbriolat/channel-archiver/internal/scheduler"
	"github.com/alanbriolat/channel-archiver/internal/store"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

var commands = []*cli.Command{
	{
		Name:   "run",
		Usage:  "crawl channels and download new videos periodically until interrupted",
		Action: withApp(runAction),
	},
	{
		Name:   "crawl",
		Usage:  "crawl every channel once, queueing new videos and removing old ones",
		Action: withApp(func(c *cli.Context, a *app) error { return a.crawler.Crawl(c.Context) }),
	},
	{
		Name:   "drain",
		Usage:  "download every queued video that has automation enabled",
		Action: withApp(func(c *cli.Context, a *app) error { return a.crawler.DrainQueue(c.Context) }),
	},
	{
		Name:      "download",
		Usage:     "download a single queued video now",
		ArgsUsage: "UUID",
		Action:    downloadAction(),
	},
	{
		Name:      "requeue",
		Usage:     "put a failed download back in the queue",
		ArgsUsage: "UUID",
		Action: withApp(func(c *cli.Context, a *app) error {
			uuid, err := singleArg(c, "UUID")
			if err != nil {
				return err
			}
			return a.manager.Requeue(uuid)
		}),
	},
	{
		Name:  "remove",
		Usage: "delete downloaded videos and mark their records removed",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "uuid", Usage: "select the download with `UUID`"},
			&cli.StringFlag{Name: "video", Usage: "select downloads of video `ID`"},
			&cli.StringFlag{Name: "channel", Usage: "select downloads from channel `ID`"},
		},
		Action: withApp(removeAction),
	},
	{
		Name:      "queue",
		Usage:     "queue a video by URL or ID, outside of any channel's automation",
		ArgsUsage: "URL|ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "channel", Usage: "file the download under channel `ID` instead of the video's own"},
			&cli.BoolFlag{Name: "now", Usage: "download immediately instead of leaving it queued"},
		},
		Action: withApp(queueAction),
	},
	{
		Name:  "list",
		Usage: "list downloads",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "status", Usage: "only show downloads in `STATUS`"},
			&cli.StringFlag{Name: "channel", Usage: "only show downloads from channel `ID`"},
		},
		Action: withApp(listAction),
	},
	{
		Name:      "set",
		Usage:     "change fields of a download",
		ArgsUsage: "UUID KEY=VALUE...",
		Description: "Settable keys are title and automationEnabled. Setting automationEnabled=false freezes the " +
			"record: the crawler will neither download nor remove it.",
		Action: withApp(setAction),
	},
	{
		Name:  "thumbnails",
		Usage: "refresh thumbnails that no longer resolve",
		Action: withApp(func(c *cli.Context, a *app) error {
			var result error
			if err := a.crawler.RefreshDownloadThumbnails(c.Context); err != nil {
				result = multierror.Append(result, err)
			}
			if err := a.crawler.RefreshChannelThumbnails(c.Context); err != nil {
				result = multierror.Append(result, err)
			}
			return result
		}),
	},
	{
		Name:  "history",
		Usage: "list saved revisions of the store (sqlite backend only)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "show the `N` most recent revisions"},
		},
		Action: withApp(historyAction),
	},
	{
		Name:  "prune",
		Usage: "delete old revisions of the store (sqlite backend only)",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "keep", Value: 100, Usage: "keep the `N` most recent revisions"},
		},
		Action: withApp(pruneAction),
	},
	{
		Name:  "channel",
		Usage: "manage tracked channels",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "start tracking a channel",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display `NAME` (default: from the provider)"},
					&cli.IntFlag{Name: "count", Value: 5, Usage: "keep the `N` most recent videos"},
					&cli.IntFlag{Name: "max-duration", Value: 60, Usage: "skip videos longer than `MINUTES`"},
				},
				Action: withApp(channelAddAction),
			},
			{
				Name:   "list",
				Usage:  "list tracked channels",
				Action: withApp(channelListAction),
			},
			{
				Name:      "set",
				Usage:     "change a channel's settings",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "display `NAME`"},
					&cli.IntFlag{Name: "count", Usage: "keep the `N` most recent videos"},
					&cli.IntFlag{Name: "max-duration", Usage: "skip videos longer than `MINUTES`, 0 pauses the channel"},
				},
				Action: withApp(channelSetAction),
			},
			{
				Name:      "remove",
				Usage:     "stop tracking a channel",
				ArgsUsage: "ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "downloads", Usage: "also remove the channel's downloads"},
				},
				Action: withApp(func(c *cli.Context, a *app) error {
					id, err := singleArg(c, "ID")
					if err != nil {
						return err
					}
					return a.remover.RemoveChannel(c.Context, id, c.Bool("downloads"))
				}),
			},
		},
	},
}

func singleArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit(fmt.Sprintf("expected exactly one %v argument", name), 2)
	}
	return c.Args().First(), nil
}

func runAction(c *cli.Context, a *app) error {
	if _, err := a.manager.RecoverInterrupted(); err != nil {
		return err
	}
	config := a.env.Config()
	s := scheduler.New(config.RoutineInterval)
	err := s.Add("channels", config.RoutineInterval, func(ctx context.Context) error {
		var result error
		if err := a.crawler.Crawl(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		if err := a.crawler.DrainQueue(ctx); err != nil {
			result = multierror.Append(result, err)
		}
		return result
	})
	if err != nil {
		return err
	}
	if err := s.Add("download-thumbnails", config.ThumbnailInterval, a.crawler.RefreshDownloadThumbnails); err != nil {
		return err
	}
	if err := s.Add("channel-thumbnails", config.ThumbnailInterval, a.crawler.RefreshChannelThumbnails); err != nil {
		return err
	}
	a.log.Infow("starting routines", "interval", config.RoutineInterval, "thumbnail_interval", config.ThumbnailInterval)
	if err := s.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// downloadAction runs one download with a progress bar over the transcode, sized by the video's duration.
func downloadAction() cli.ActionFunc {
	var bar *progressbar.ProgressBar
	progress := func(d store.Download, p channel_archiver.Progress) {
		if bar == nil {
			total := d.Metadata.Duration
			if total <= 0 {
				total = -1
			}
			bar = progressbar.Default(total, "transcoding")
		}
		_ = bar.Set(int(p.Processed.Seconds()))
	}
	return withApp(func(c *cli.Context, a *app) error {
		uuid, err := singleArg(c, "UUID")
		if err != nil {
			return err
		}
		err = a.manager.Run(c.Context, uuid)
		if bar != nil {
			_ = bar.Finish()
			fmt.Println()
		}
		if err != nil {
			return err
		}
		return reportOutcome(a, uuid)
	}, withProgress(progress))
}

// reportOutcome prints where a download ended up, and fails the command if the download failed.
func reportOutcome(a *app, uuid string) error {
	current := a.env.Store().Download(uuid)
	if current.IsNone() {
		return &channel_archiver.NotFoundError{Entity: "download", Key: uuid}
	}
	d := current.Unwrap()
	if d.Status == store.StatusFailed {
		return cli.Exit(fmt.Sprintf("%v: %v", d.UUID, d.Log), 1)
	}
	fmt.Printf("%v: %v %v\n", d.UUID, d.Status, d.Folder)
	return nil
}

func removeAction(c *cli.Context, a *app) error {
	var filter store.DownloadFilter
	if c.IsSet("uuid") {
		uuid := c.String("uuid")
		filter.UUID = &uuid
	}
	if c.IsSet("video") {
		video := c.String("video")
		filter.VideoID = &video
	}
	if c.IsSet("channel") {
		channel := c.String("channel")
		filter.ChannelID = &channel
	}
	if filter.UUID == nil && filter.VideoID == nil && filter.ChannelID == nil {
		return cli.Exit("at least one of --uuid, --video or --channel is required", 2)
	}
	err := a.remover.Remove(c.Context, filter)
	var merr *multierror.Error
	if errors.As(err, &merr) {
		for _, e := range merr.Errors {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
		return cli.Exit(fmt.Sprintf("failed to remove %d download(s)", len(merr.Errors)), 1)
	}
	return err
}

func queueAction(c *cli.Context, a *app) error {
	source, err := singleArg(c, "URL|ID")
	if err != nil {
		return err
	}
	config := a.env.Config()
	match, err := a.env.ProviderRegistry().MatchWith(config.Provider, source)
	if err != nil {
		// Say which provider the input belongs to, if any, since only the configured one can fetch it
		if other, otherErr := a.env.ProviderRegistry().Match(source); otherErr == nil {
			return fmt.Errorf("%v: %w: matched by %v, but the configured provider is %v", source, err, other.ProviderName, config.Provider)
		} else {
			return fmt.Errorf("%v: %w", source, otherErr)
		}
	}
	s := a.env.Store()
	for _, existing := range s.Downloads(store.ByVideoID(match.VideoID)) {
		if existing.Status != store.StatusRemoved {
			return &channel_archiver.ConflictError{UUID: existing.UUID, Reason: fmt.Sprintf("video %v is already %v", match.VideoID, existing.Status)}
		}
	}
	video, err := a.env.Provider().VideoInfo(c.Context, match.VideoID)
	if err != nil {
		return err
	}
	channelID := video.ChannelID
	if c.IsSet("channel") {
		channelID = c.String("channel")
	}
	d := store.Download{
		VideoID:   video.ID,
		ChannelID: channelID,
		Title:     video.Title,
		Status:    store.StatusQueued,
		Log:       lifecycle.LogQueued,
		Metadata: store.DownloadMetadata{
			Description: video.Description,
			Duration:    int64(video.Duration.Seconds()),
		},
	}
	if d.VideoID == "" {
		d.VideoID = match.VideoID
	}
	if len(video.Thumbnails) > 0 {
		d.Metadata.Thumbnail = video.Thumbnails[0]
	}
	d, err = s.AddDownload(d)
	if err != nil {
		return err
	}
	fmt.Println(d.UUID)
	if !c.Bool("now") {
		return nil
	}
	if err := a.manager.Run(c.Context, d.UUID); err != nil {
		return err
	}
	return reportOutcome(a, d.UUID)
}

func listAction(c *cli.Context, a *app) error {
	var filter store.DownloadFilter
	if c.IsSet("status") {
		status := store.DownloadStatus(c.String("status"))
		if !status.IsValid() {
			return &channel_archiver.ValidationError{Entity: "filter", Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
		filter.Status = &status
	}
	if c.IsSet("channel") {
		channel := c.String("channel")
		filter.ChannelID = &channel
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tSTATUS\tAUTO\tCHANNEL\tVIDEO\tTITLE\tLOG")
	for _, d := range a.env.Store().Downloads(filter) {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n", d.UUID, d.Status, d.AutomationEnabled, d.ChannelID, d.VideoID, d.Title, d.Log)
	}
	return w.Flush()
}

func setAction(c *cli.Context, a *app) error {
	if c.NArg() < 2 {
		return cli.Exit("expected UUID followed by at least one KEY=VALUE", 2)
	}
	patch, err := parsePatch(c.Args().Tail())
	if err != nil {
		return err
	}
	return a.env.Store().UpdateDownload(c.Args().First(), patch)
}

func channelAddAction(c *cli.Context, a *app) error {
	id, err := singleArg(c, "ID")
	if err != nil {
		return err
	}
	info, err := a.env.Provider().ChannelInfo(c.Context, id)
	if err != nil {
		return err
	}
	channel := store.Channel{
		ID:              id,
		Name:            info.Name,
		DownloadCount:   c.Int("count"),
		MaximumDuration: c.Int("max-duration"),
		Metadata:        store.ChannelMetadata{Thumbnail: info.ThumbnailURL},
	}
	if c.IsSet("name") {
		channel.Name = c.String("name")
	}
	if err := a.env.Store().AddChannel(channel); err != nil {
		return err
	}
	a.log.Infow("added channel", "channel_id", id, "name", channel.Name)
	return nil
}

func channelListAction(c *cli.Context, a *app) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOUNT\tMAX DURATION")
	for _, ch := range a.env.Store().Channels(store.ChannelFilter{}) {
		fmt.Fprintf(w, "%v\t%v\t%v\t%vm\n", ch.ID, ch.Name, ch.DownloadCount, ch.MaximumDuration)
	}
	return w.Flush()
}

func channelSetAction(c *cli.Context, a *app) error {
	id, err := singleArg(c, "ID")
	if err != nil {
		return err
	}
	var patch store.ChannelPatch
	if c.IsSet("name") {
		name := c.String("name")
		patch.Name = &name
	}
	if c.IsSet("count") {
		count := c.Int("count")
		patch.DownloadCount = &count
	}
	if c.IsSet("max-duration") {
		maxDuration := c.Int("max-duration")
		patch.MaximumDuration = &maxDuration
	}
	_, err = a.env.Store().UpdateChannels(store.ByChannel(id), patch)
	return err
}

func revisionDatabase(a *app) (*database.Database, error) {
	db, ok := a.env.Store().Backend().(*database.Database)
	if !ok {
		return nil, cli.Exit(fmt.Sprintf("the %v store backend keeps no revisions", a.env.Config().StoreBackend), 1)
	}
	return db, nil
}

func historyAction(c *cli.Context, a *app) error {
	db, err := revisionDatabase(a)
	if err != nil {
		return err
	}
	revisions, err := db.Revisions(c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REVISION\tSAVED")
	for _, r := range revisions {
		fmt.Fprintf(w, "%v\t%v\n", r.Revision, r.CreatedAt.Local().Format(time.RFC3339))
	}
	return w.Flush()
}

func pruneAction(c *cli.Context, a *app) error {
	db, err := revisionDatabase(a)
	if err != nil {
		return err
	}
	keep := c.Int("keep")
	if keep < 1 {
		return cli.Exit("--keep must be at least 1", 2)
	}
	deleted, err := db.Prune(keep)
	if err != nil {
		return err
	}
	a.log.Infow("pruned store revisions", "deleted", deleted, "kept", keep)
	return nil
}
