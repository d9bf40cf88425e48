package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nevindra/clonechat/ffmpeg"
	"github.com/nevindra/clonechat/publish"
)

func newPublishCmd(g *globalFlags) *cobra.Command {
	var (
		folder  string
		restart bool
		yes     bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a folder tree as a channel",
		Long: `Turn a local folder of videos and documents into a channel: archive
the non-video files, re-encode and join the videos into parts, build a
timestamped summary and upload everything in order. Interrupted runs
resume at the stage they stopped in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if folder == "" {
				return errors.New("--folder is required")
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, g)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			runner := ffmpeg.New(
				ffmpeg.WithLogger(a.logger),
				ffmpeg.WithTimeLimit(a.cfg.Publish.TimeLimit()))
			if err := runner.Validate(ctx); err != nil {
				return err
			}

			if err := a.connect(ctx); err != nil {
				return err
			}

			pc := a.cfg.Publish
			pcfg := publish.Config{
				WorkspaceRoot:   pc.WorkspaceRoot,
				SizeLimitMB:     pc.SizeLimitMB,
				VideoExts:       pc.VideoExtSet(),
				ReencodePlan:    publish.Plan(pc.ReencodePlan),
				DurationLimit:   pc.Duration(),
				Transition:      pc.Transition,
				StartIndex:      pc.StartIndex,
				HashtagIndex:    pc.HashtagIndex,
				DocumentHashtag: pc.DocumentHashtag,
				DocumentTitle:   pc.DocumentTitle,
				SummaryTop:      pc.SummaryTop,
				SummaryBottom:   pc.SummaryBottom,
				AutoAdapt:       pc.AutoAdapt,
				RegisterInvite:  pc.RegisterInvite,
				MaxPath:         pc.MaxPath,
				CreateChannel:   pc.CreateChannel,
				ChatID:          pc.ChatID,
				MocChatID:       pc.MocChatID,
				AutodelTemp:     pc.AutodelTemp,
			}

			pipeOpts := []publish.PipelineOption{
				publish.PipelineLogger(a.logger),
				publish.PipelineStats(a.stats),
				publish.PipelineLinkFile(a.links),
				publish.PipelineConfirm(askYesNo),
			}
			if a.tracer != nil {
				pipeOpts = append(pipeOpts, publish.PipelineTracer(a.tracer))
			}
			p := publish.New(a.client, a.store, runner, pcfg, pipeOpts...)

			err = p.Run(ctx, publish.Options{Folder: folder, Restart: restart, Yes: yes})
			if errors.Is(err, publish.ErrAuthDeclined) {
				a.logger.Info("pipeline paused, run again to continue")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&folder, "folder", "", "source folder to publish")
	cmd.Flags().BoolVar(&restart, "restart", false, "discard progress and the project workspace")
	cmd.Flags().BoolVar(&yes, "yes", false, "authorise every stage without prompting")
	return cmd
}

// askYesNo prompts on the terminal. Anything but an explicit yes
// declines.
func askYesNo(prompt string) (bool, error) {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
