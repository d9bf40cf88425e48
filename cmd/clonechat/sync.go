package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/nevindra/clonechat"
	"github.com/nevindra/clonechat/ffmpeg"
)

func newSyncCmd(g *globalFlags) *cobra.Command {
	var (
		origin        string
		dest          string
		restart       bool
		forceDownload bool
		extractAudio  bool
		leaveOrigin   bool
		publishTo     string
		topic         int
		batch         bool
		source        string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Clone a chat history into another chat",
		Long: `Clone a chat history message by message. Forwards when the origin
allows it, otherwise downloads and re-uploads each message. Interrupted
runs resume from the last processed message.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch && source == "" {
				return errors.New("--batch requires --source")
			}
			if !batch && origin == "" {
				return errors.New("--origin is required (or use --batch with --source)")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			// Fail on a missing transcoder before dialing the platform.
			var procOpts []clonechat.ProcessorOption
			if extractAudio {
				runner := ffmpeg.New(
					ffmpeg.WithLogger(a.logger),
					ffmpeg.WithTimeLimit(a.cfg.Publish.TimeLimit()))
				if err := runner.Validate(ctx); err != nil {
					return err
				}
				procOpts = append(procOpts, clonechat.ProcessorAudio(runner))
			}

			if err := a.connect(ctx); err != nil {
				return err
			}

			procOpts = append(procOpts,
				clonechat.ProcessorLogger(a.logger),
				clonechat.ProcessorStats(a.stats))
			proc := clonechat.NewProcessor(a.client, procOpts...)

			clonerOpts := []clonechat.ClonerOption{
				clonechat.ClonerLogger(a.logger),
				clonechat.ClonerStats(a.stats),
				clonechat.ClonerLinkFile(a.links),
				clonechat.ClonerInviteLinks(a.cfg.Publish.RegisterInvite),
				clonechat.ClonerScratchDir(a.cfg.Cloner.DownloadPath),
			}
			if a.tracer != nil {
				clonerOpts = append(clonerOpts, clonechat.ClonerTracer(a.tracer))
			}
			cloner := clonechat.NewCloner(a.client, a.store, proc, clonerOpts...)
			resolver := clonechat.NewResolver(a.client, clonechat.ResolverLogger(a.logger))

			opts := clonechat.CloneOptions{
				Restart:       restart,
				ForceDownload: forceDownload,
				ExtractAudio:  extractAudio,
				LeaveOrigin:   leaveOrigin,
				Topic:         topic,
			}
			if dest != "" {
				opts.Dest, err = resolver.Resolve(ctx, dest)
				if err != nil {
					return err
				}
			}
			if publishTo != "" {
				opts.PublishTo, err = resolver.Resolve(ctx, publishTo)
				if err != nil {
					return err
				}
			}

			if batch {
				return cloner.RunBatch(ctx, resolver, source, opts)
			}
			opts.Origin, err = resolver.Resolve(ctx, origin)
			if err != nil {
				return err
			}
			return cloner.Run(ctx, opts)
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "origin chat: id, @username or t.me link")
	cmd.Flags().StringVar(&dest, "dest", "", "destination chat (default: stored task destination or a new channel)")
	cmd.Flags().BoolVar(&restart, "restart", false, "discard progress and clone from the first message")
	cmd.Flags().BoolVar(&forceDownload, "force-download", false, "always download and re-upload, never forward")
	cmd.Flags().BoolVar(&extractAudio, "extract-audio", false, "also upload an mp3 track for every video")
	cmd.Flags().BoolVar(&leaveOrigin, "leave-origin", false, "leave the origin chat after the clone completes")
	cmd.Flags().StringVar(&publishTo, "publish-to", "", "chat to notify with the destination link on completion")
	cmd.Flags().IntVar(&topic, "topic", 0, "forum topic id for the completion notice")
	cmd.Flags().BoolVar(&batch, "batch", false, "clone every chat listed in --source")
	cmd.Flags().StringVar(&source, "source", "", "batch file, one chat per line")
	return cmd
}
