package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/gaslam-go/ga-slam/internal"
)

// gaslamd is a thin driver: it loads configuration, wires an Orchestrator,
// and accepts poseCallback/imuCallback input over a line-oriented stdin
// protocol for manual testing and replay scripts. It is explicitly not a
// ROS node, a visualization server, or a point-cloud replay parser — a
// real deployment supplies those as external collaborators and calls the
// same Orchestrator methods directly.
func main() {
	configPath := flag.String("config", "gaslamd.yaml", "path to the YAML configuration file")
	jsonLogs := flag.Bool("json-logs", false, "emit structured JSON logs instead of the console writer")
	flag.Parse()

	if *jsonLogs {
		internal.SetLogger(zerolog.New(os.Stderr).With().Timestamp().Str("component", "ga-slam").Logger())
	}
	log := internal.Logger()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load configuration")
	}

	orch := internal.NewOrchestrator(cfg.Seed)
	if err := orch.Configure(cfg.ToOrchestratorConfig()); err != nil {
		log.Fatal().Err(err).Msg("failed to configure orchestrator")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Info().Str("config", *configPath).Msg("gaslamd ready; reading commands from stdin")
	go runREPL(ctx, cancel, orch, log)

	<-ctx.Done()
	log.Info().Msg("shutting down, waiting for in-flight workers")
	orch.Close()
}

// runREPL reads whitespace-separated commands from stdin:
//
//	pose <dx> <dy> <dz> <droll> <dpitch> <dyaw>   feeds Orchestrator.PoseCallback
//	imu <roll> <pitch> <yaw>                      feeds Orchestrator.ImuCallback
//	show                                          prints the current pose estimate
//	quit                                          requests shutdown
//
// This is a replay stub: a real point cloud source (depth camera / lidar
// driver) is out of scope and would call Orchestrator.CloudCallback
// directly instead of going through this REPL.
func runREPL(ctx context.Context, cancel context.CancelFunc, orch *internal.Orchestrator, log zerolog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "pose":
			delta, err := parsePoseDelta(fields[1:])
			if err != nil {
				log.Error().Err(err).Msg("bad pose command")
				continue
			}
			orch.PoseCallback(delta)

		case "imu":
			imuPose, err := parseImuPose(fields[1:])
			if err != nil {
				log.Error().Err(err).Msg("bad imu command")
				continue
			}
			orch.ImuCallback(imuPose)

		case "show":
			pose := orch.GetPose()
			fmt.Printf("pose: x=%.4f y=%.4f z=%.4f roll=%.4f pitch=%.4f yaw=%.4f\n",
				pose.Position.X, pose.Position.Y, pose.Position.Z, pose.Roll, pose.Pitch, pose.Yaw)

		case "quit":
			cancel()
			return

		default:
			log.Warn().Str("command", fields[0]).Msg("unknown command")
		}
	}
	cancel()
}

func parsePoseDelta(args []string) (internal.Pose, error) {
	v, err := parseFloats(args, 6)
	if err != nil {
		return internal.Pose{}, err
	}
	return internal.Pose{
		Position: internal.Vec3{X: v[0], Y: v[1], Z: v[2]},
		Roll:     v[3],
		Pitch:    v[4],
		Yaw:      v[5],
	}, nil
}

func parseImuPose(args []string) (internal.Pose, error) {
	v, err := parseFloats(args, 3)
	if err != nil {
		return internal.Pose{}, err
	}
	return internal.Pose{Roll: v[0], Pitch: v[1], Yaw: v[2]}, nil
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("expected %d numeric fields, got %d", n, len(args))
	}
	out := make([]float64, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("field %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
