package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:        "hsdl",
		Usage:       "download Headspace meditations and techniques",
		Description: "hsdl downloads packs, single sessions and everyday sessions from Headspace",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output to stderr",
			},
		},
		Commands: []*cli.Command{{
			Name:        "login",
			Usage:       "log in and store the bearer token",
			Description: "exchange an email and password for a bearer token",
			Action:      cmdLogin,
		}, {
			Name:        "file",
			Usage:       "print the bearer token file location",
			Description: "the token can be pasted into this file by hand",
			Action:      cmdFile,
		}, {
			Name:      "pack",
			Usage:     "download a whole pack",
			ArgsUsage: "[pack url]",
			Flags: append(downloadFlags(),
				&cli.IntFlag{
					Name:  "id",
					Usage: "pack id instead of a url",
				},
				&cli.BoolFlag{
					Name:  "all",
					Usage: "download every pack",
				},
				&cli.StringFlag{
					Name:    "exclude",
					Aliases: []string{"e"},
					Usage:   "file of pack urls or ids to skip with --all",
				},
				&cli.BoolFlag{
					Name:  "no-meditation",
					Usage: "skip meditation sessions",
				},
				&cli.BoolFlag{
					Name:  "no-techniques",
					Usage: "skip technique videos",
				},
			),
			Action: withPipeline(cmdPack),
		}, {
			Name:      "download",
			Usage:     "download one session or technique from a player url",
			ArgsUsage: "<player url>",
			Flags:     downloadFlags(),
			Action:    withPipeline(cmdDownload),
		}, {
			Name:  "everyday",
			Usage: "download everyday sessions",
			Flags: append(downloadFlags(),
				&cli.StringFlag{
					Name:  "from",
					Usage: "first day, " + dateLayout + " (default today)",
				},
				&cli.StringFlag{
					Name:  "to",
					Usage: "last day, " + dateLayout + " (default today)",
				},
			),
			Action: withPipeline(cmdEveryday),
		}},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func downloadFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntSliceFlag{
			Name:    "duration",
			Aliases: []string{"d"},
			Usage:   "wanted length in minutes, repeatable (default from config, 15)",
		},
		&cli.StringFlag{
			Name:    "out",
			Aliases: []string{"o"},
			Usage:   "download root",
		},
	}
}
