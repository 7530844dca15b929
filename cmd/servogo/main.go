package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/ServoGo/internal/config"
	"github.com/cjeanneret/ServoGo/internal/debug"
	"github.com/cjeanneret/ServoGo/internal/hw/gpio"
	"github.com/cjeanneret/ServoGo/internal/hw/i2c"
	"github.com/cjeanneret/ServoGo/internal/logic/bus"
	"github.com/cjeanneret/ServoGo/internal/logic/motion"
	"github.com/cjeanneret/ServoGo/internal/logic/registry"
	"github.com/cjeanneret/ServoGo/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080, val: 8080}
	flag.Var(webPort, "web", "web server port; -web 8980 for a custom port, -web 0 to disable")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	oneshotChannel := flag.Int("channel", -1, "oneshot mode: global channel id to move, then exit")
	oneshotAngle := flag.Float64("angle", math.NaN(), "oneshot mode: target angle in degrees")
	oneshotSpeed := flag.Float64("speed", 0, "oneshot mode: speed in deg/s (0 = config default)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	oneshot := *oneshotChannel >= 0 || !math.IsNaN(*oneshotAngle)
	if oneshot {
		if err := validateOneshot(*oneshotChannel, *oneshotAngle, *oneshotSpeed); err != nil {
			log.Fatalf("invalid oneshot flags: %v", err)
		}
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock I2C", cfg.Bus.MockI2C)
	debug.Value("Mock GPIO", cfg.Bus.MockGPIO)

	// Initialize I2C bus
	i2cBus, err := i2c.NewBus(cfg.Bus.MockI2C, cfg.Bus.Device)
	if err != nil {
		log.Fatalf("init I2C bus failed: %v", err)
	}

	// Initialize the /OE GPIO driver when the line is wired
	var oeDriver gpio.Driver
	if cfg.Bus.OEPin > 0 {
		oeDriver, err = gpio.NewDriver(cfg.Bus.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := oeDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
	}

	// Build the channel registry from the configured boards
	boards := make([]registry.Board, 0, len(cfg.Boards))
	for _, b := range cfg.Boards {
		boards = append(boards, registry.Board{
			Address:  uint16(b.Address),
			Channels: b.Channels,
		})
	}
	reg, err := registry.New(boards)
	if err != nil {
		log.Fatalf("build channel registry failed: %v", err)
	}
	debug.Value("Boards", len(boards))
	debug.Value("Channels", reg.Len())

	gateway := bus.NewGateway(i2cBus, reg, cfg.PWM.FrequencyHz, cfg.PWM.Resolution)
	ctrl := motion.NewController(gateway, reg, oeDriver, motion.Params{
		MinPulseUs:      cfg.Servo.MinPulseUs,
		MidPulseUs:      cfg.Servo.MidPulseUs,
		MaxPulseUs:      cfg.Servo.MaxPulseUs,
		MaxAngleDeg:     cfg.Servo.MaxAngleDeg,
		SpeedMinDps:     cfg.Servo.SpeedMinDps,
		SpeedMaxDps:     cfg.Servo.SpeedMaxDps,
		SpeedDefaultDps: cfg.Servo.SpeedDefaultDps,
		FrequencyHz:     cfg.PWM.FrequencyHz,
		Resolution:      cfg.PWM.Resolution,
		OEPin:           cfg.Bus.OEPin,
	})

	if err := ctrl.Start(); err != nil {
		log.Fatalf("start controller failed: %v", err)
	}
	defer ctrl.Stop()

	if oneshot {
		if err := runOneshot(ctx, ctrl, *oneshotChannel, *oneshotAngle, *oneshotSpeed); err != nil {
			// Stop must still run: log, tear down via the defer, then exit non-zero.
			log.Printf("oneshot move failed: %v", err)
			ctrl.Stop()
			os.Exit(1)
		}
		return
	}

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewEventBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		srv := web.NewServer(webAddr, ctrl, broadcaster)
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	// Neither oneshot nor web: hold the outputs centered until interrupted.
	debug.Info("No web port and no oneshot flags; holding center until interrupted")
	<-ctx.Done()
}

// runOneshot starts a single paced move and blocks until the channel reports
// it has converged, the context is cancelled, or the move times out.
func runOneshot(ctx context.Context, ctrl *motion.Controller, channel int, angleDeg, speedDps float64) error {
	if speedDps > 0 {
		clamped, err := ctrl.SetSpeed(channel, speedDps)
		if err != nil {
			return fmt.Errorf("set speed: %w", err)
		}
		debug.Value("Speed (deg/s)", clamped)
	}

	target, err := ctrl.SetAngle(channel, angleDeg)
	if err != nil {
		return fmt.Errorf("set angle: %w", err)
	}
	debug.Info("Moving channel %d to %.1f deg", channel, target)

	// Worst case is a full sweep at the minimum speed; pad it generously.
	deadline := time.NewTimer(2 * time.Minute)
	defer deadline.Stop()
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("channel %d did not converge", channel)
		case <-tick.C:
			st, ok := ctrl.CurrentState().Channels[channel]
			if !ok {
				return fmt.Errorf("channel %d missing from state", channel)
			}
			if !st.Moving {
				debug.Info("Channel %d settled at %.1f deg", channel, st.Angle)
				return nil
			}
		}
	}
}

// validateOneshot checks that -channel and -angle were both given and sane.
// Range clamping is the controller's job; this only rejects nonsense input.
func validateOneshot(channel int, angleDeg, speedDps float64) error {
	if channel < 0 {
		return fmt.Errorf("-channel is required with -angle")
	}
	if math.IsNaN(angleDeg) {
		return fmt.Errorf("-angle is required with -channel")
	}
	if math.IsInf(angleDeg, 0) {
		return fmt.Errorf("-angle must be finite, got %g", angleDeg)
	}
	if math.IsNaN(speedDps) || math.IsInf(speedDps, 0) || speedDps < 0 {
		return fmt.Errorf("-speed must be a non-negative number, got %g", speedDps)
	}
	return nil
}

// webPortFlag implements flag.Value for -web: 0 disables the server,
// -web= restores the default port.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v < 0 || v > 65535 {
		return fmt.Errorf("port must be 0-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
