package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

func newDownloadCmd(g *globalFlags) *cobra.Command {
	var (
		origin       string
		limit        int
		output       string
		restart      bool
		messageID    int
		extractAudio bool
		deleteVideo  bool
	)
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every video from a chat",
		Long: `Walk a chat from oldest to newest and save every video under the
download folder. Interrupted runs resume above the last saved message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin == "" {
				return errors.New("--origin is required")
			}
			if deleteVideo && !extractAudio {
				return errors.New("--delete-video requires --extract-audio")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			dlOpts := []clonechat.DownloaderOption{
				clonechat.DownloaderLogger(a.logger),
				clonechat.DownloaderStats(a.stats),
				clonechat.DownloaderRoot(a.cfg.Cloner.DownloadPath),
			}
			if a.tracer != nil {
				dlOpts = append(dlOpts, clonechat.DownloaderTracer(a.tracer))
			}
			if extractAudio {
				runner := ffmpeg.New(
					ffmpeg.WithLogger(a.logger),
					ffmpeg.WithTimeLimit(a.cfg.Publish.TimeLimit()))
				if err := runner.Validate(ctx); err != nil {
					return err
				}
				dlOpts = append(dlOpts, clonechat.DownloaderAudio(runner))
			}

			if err := a.connect(ctx); err != nil {
				return err
			}

			resolver := clonechat.NewResolver(a.client, clonechat.ResolverLogger(a.logger))
			originID, err := resolver.Resolve(ctx, origin)
			if err != nil {
				return err
			}
			if restart {
				if err := a.store.DeleteDownloadTask(ctx, originID); err != nil && !errors.Is(err, clonechat.ErrNotFound) {
					return err
				}
			}

			dl := clonechat.NewDownloader(a.client, a.store, dlOpts...)
			return dl.Run(ctx, clonechat.DownloadOptions{
				Origin:       originID,
				OutputDir:    output,
				Limit:        limit,
				FromMessage:  messageID,
				ExtractAudio: extractAudio,
				DeleteVideo:  deleteVideo,
			})
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "origin chat: id, @username or t.me link")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many videos (0 = no limit)")
	cmd.Flags().StringVar(&output, "output", "", "output folder (default: per-chat folder under the download path)")
	cmd.Flags().BoolVar(&restart, "restart", false, "discard the checkpoint and download from the first message")
	cmd.Flags().IntVar(&messageID, "message-id", 0, "start at this message id instead of the checkpoint")
	cmd.Flags().BoolVar(&extractAudio, "extract-audio", false, "extract an mp3 next to each video")
	cmd.Flags().BoolVar(&deleteVideo, "delete-video", false, "remove the video once its mp3 exists")
	return cmd
}
