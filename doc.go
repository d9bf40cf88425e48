// Package clonechat automates Telegram chat replication from a user
// account: cloning full chat histories, bulk-downloading videos, and
// publishing processed course folders back to channels.
//
// It provides interface-driven building blocks: a platform client
// abstraction, a retry and rate-limit adapter, a relational task store
// for resumable progress, the clone and download engines, and an
// ffmpeg wrapper feeding the publish pipeline.
//
// # Quick Start
//
// Wire a client, decorate it, and run a clone:
//
//	tc, err := telegram.Connect(ctx, telegram.Options{...})
//	client := clonechat.WithPace(clonechat.WithRetry(tc), 2*time.Second)
//	store := sqlite.New("clonechat.db")
//
//	proc := clonechat.NewProcessor(client, clonechat.ProcessorAudio(ff))
//	cloner := clonechat.NewCloner(client, store, proc,
//		clonechat.ClonerLogger(logger),
//	)
//	err = cloner.Run(ctx, clonechat.CloneOptions{Origin: originID})
//
// Runs are idempotent: every processed message moves a persistent
// checkpoint, so an interrupted clone resumes where it stopped.
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Client] is the full platform call surface (history, sends, files, chat management)
//   - [TaskStore] persists sync, download, and publish task state
//   - [AudioExtractor] pulls audio tracks out of downloaded videos
//   - [Tracer] and [Stats] are optional observability hooks
//
// # Included Implementations
//
// Platform: telegram (MTProto user client via gotd).
// Storage: store/sqlite (local), store/postgres (shared).
// Media: ffmpeg (probe, reencode, concat, audio extraction).
// Publishing: publish (the staged folder pipeline).
//
// See the cmd/clonechat directory for the command-line entry point.
package clonechat
