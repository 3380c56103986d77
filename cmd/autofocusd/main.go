// autofocus - pick the sharpest fiber end-face images during a stage sweep
//  Copyright (C) 2026, The Fiberend Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	arg "github.com/alexflint/go-arg"
	"github.com/coreos/go-systemd/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fiberend/autofocus/clarity"
	"github.com/fiberend/autofocus/output"
	"github.com/fiberend/autofocus/session"
	"github.com/fiberend/autofocus/store"
	"github.com/fiberend/autofocus/throttle"
)

const watchdogInterval = 10 * time.Second

var version = "<not set>"

type Args struct {
	ConfigFile string `arg:"-c,--config" help:"path to configuration file"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
	Replay     string `arg:"-r,--replay" help:"run one session against a directory of recorded sweep frames and exit"`
	Mode       string `arg:"-m,--mode" help:"replay session to run: focus, calibrate or adjust"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigFile = "/etc/autofocus.yaml"
	args.Mode = modeFocus
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	if !args.Timestamps {
		log.SetFlags(0)
	}

	log.Printf("running version: %s", version)
	conf, err := ParseConfigFile(args.ConfigFile)
	if err != nil {
		return err
	}
	logConfig(conf)

	log.Println("deleting temp files")
	if err := output.DeleteTempFiles(conf.OutputDir); err != nil {
		return err
	}

	db, err := store.Open(conf.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	engine := clarity.New(conf.Clarity, conf.Detector.Detector())
	loadCalibration(db, engine)
	engine.SetDumper(throttle.NewFrameDumper(conf.OutputDir, conf.Throttle, nil))
	engine.Start()
	defer engine.Stop()

	reg := prometheus.NewRegistry()
	clarity.NewMetrics(reg, engine)

	sweepDir := conf.SweepDir
	if args.Replay != "" {
		sweepDir = args.Replay
	}
	rig, err := newReplayRig(sweepDir, conf.Cameras)
	if err != nil {
		return err
	}
	ctrl := session.NewController(engine, rig.Cameras(), rig, conf.Motion)
	rig.SetHandler(ctrl.Push)
	ctrl.SetListener(&storeListener{db: db})
	ctrl.SetProcessPosition(conf.ProcessPosition)

	if args.Replay != "" {
		return runReplay(context.Background(), ctrl, conf, args.Mode)
	}

	if conf.LightPin != "" {
		light, err := newGPIOLight(conf.LightPin)
		if err != nil {
			return err
		}
		ctrl.SetLight(light)
	}

	if conf.MetricsAddress != "" {
		go serveMetrics(conf.MetricsAddress, reg)
	}

	log.Println("starting d-bus service")
	if err := startService(ctrl, conf); err != nil {
		return err
	}

	daemon.SdNotify(false, "READY=1")
	for range time.Tick(watchdogInterval) {
		daemon.SdNotify(false, "WATCHDOG=1")
	}
	return nil
}

// loadCalibration seeds the engine with the last stored calibration.
func loadCalibration(db *store.Store, engine *clarity.Engine) {
	cal, err := db.LatestCalibration()
	if errors.Is(err, store.ErrNoCalibration) {
		log.Print("no stored calibration, run a calibration before focusing")
		return
	}
	if err != nil {
		log.Printf("failed to load calibration: %v", err)
		return
	}
	engine.SetCalibration(cal.FrameClarity)
	engine.SetClarityThresholds(cal.Thresholds)
	engine.SetDiffThreshold(cal.DiffThreshold)
	log.Printf("loaded calibration %s from %s", cal.ID, cal.Created.Format(time.RFC3339))
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.Printf("serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}

func logConfig(conf *Config) {
	log.Printf("output dir: %s", conf.OutputDir)
	log.Printf("sweep dir: %s", conf.SweepDir)
	log.Printf("database: %s", conf.Database)
	log.Printf("cameras: %v", conf.Cameras)
	log.Printf("fiber end count: %d", conf.FiberEndCount)
	log.Printf("process position: %d", conf.ProcessPosition)
	log.Printf("clarity: %+v", conf.Clarity)
	log.Printf("motion: %+v", conf.Motion)
	log.Printf("throttle: %+v", conf.Throttle)
	if conf.LightPin != "" {
		log.Printf("light pin: %s", conf.LightPin)
	}
}
