package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.bug.st/serial"

	"github.com/fisaks/uhn-gripper/internal/mqtt"
	"github.com/fisaks/uhn-gripper/internal/uhn"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
  gripperctl move      --position MM --speed PCT [--wait]
  gripperctl rotate    --angle DEG --speed DEGPS [--wait]
  gripperctl init
  gripperctl indicator [--channel N]          (get, or set when --channel is given)
  gripperctl do        --channel N [--value 0|1] [--pulse MS]
  gripperctl status
  gripperctl ports

Common flags:
  --broker   (string)   MQTT broker address (default: $MQTT_URL or tcp://localhost:1883)
  --gripper  (string)   Gripper service name (default: $GRIPPER_NAME or gripper1)
  --timeout  (duration) How long to wait for the result (default: 40s)
`)
}

type common struct {
	broker  *string
	gripper *string
	timeout *time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newFlags(name string) (*flag.FlagSet, common) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = usage
	return fs, common{
		broker:  fs.String("broker", getenv("MQTT_URL", "tcp://localhost:1883"), "MQTT broker address"),
		gripper: fs.String("gripper", getenv("GRIPPER_NAME", "gripper1"), "Gripper service name"),
		timeout: fs.Duration("timeout", 40*time.Second, "Result timeout"),
	}
}

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Missing command (e.g. move)\n")
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	fs, c := newFlags(cmd)
	var payload uhn.IncomingCommand

	switch cmd {
	case "move":
		pos := fs.Float64("position", -1, "Clamp position 0..20 (required)")
		speed := fs.Float64("speed", 50, "Clamp speed 1..100")
		wait := fs.Bool("wait", false, "Wait for the position to be reached")
		parse(fs, args)
		if *pos < 0 {
			fail("--position is required")
		}
		payload = uhn.IncomingCommand{Action: "move", Position: *pos, Speed: *speed, Wait: *wait}

	case "rotate":
		angle := fs.Float64("angle", 0, "Rotation angle in degrees")
		speed := fs.Float64("speed", 90, "Rotation speed 1..1080 deg/s")
		wait := fs.Bool("wait", false, "Wait for the angle to be reached")
		parse(fs, args)
		payload = uhn.IncomingCommand{Action: "rotate", Angle: *angle, Speed: *speed, Wait: *wait}

	case "init":
		parse(fs, args)
		payload = uhn.IncomingCommand{Action: "init"}

	case "indicator":
		ch := fs.Int("channel", 0, "New indicator channel 1..16")
		parse(fs, args)
		payload = uhn.IncomingCommand{Action: "getIndicatorChannel"}
		if *ch != 0 {
			payload = uhn.IncomingCommand{Action: "setIndicatorChannel", Channel: *ch}
		}

	case "do":
		ch := fs.Int("channel", 0, "Digital output channel 1..16 (required)")
		value := fs.Int("value", -1, "0 or 1; omit to read the output")
		pulse := fs.Int("pulse", 0, "Revert after this many milliseconds")
		parse(fs, args)
		if *ch == 0 {
			fail("--channel is required")
		}
		payload = uhn.IncomingCommand{Action: "getDigitalOutput", Channel: *ch}
		if *value >= 0 {
			payload = uhn.IncomingCommand{Action: "setDigitalOutput", Channel: *ch, Value: *value}
			if *pulse > 0 {
				payload.PulseMs = *pulse
			}
		}

	case "status":
		parse(fs, args)
		payload = uhn.IncomingCommand{Action: "readAllStatus"}

	case "ports":
		listPorts()
		return

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}

	payload.ID = uuid.NewString()
	res, err := send(c, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	printResult(res)
	if !res.Success {
		os.Exit(1)
	}
}

func parse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		os.Exit(2)
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	usage()
	os.Exit(2)
}

// send publishes cmd and waits for the result carrying the same id.
func send(c common, cmd uhn.IncomingCommand) (uhn.CommandResult, error) {
	client := mqtt.MustConnect(*c.broker, "gripperctl-"+cmd.ID[:8])
	if !client.IsConnected() {
		return uhn.CommandResult{}, fmt.Errorf("not connected to %s", *c.broker)
	}
	defer client.Disconnect(250)

	prefix := "uhn/" + *c.gripper + "/gripper"
	results := make(chan uhn.CommandResult, 1)
	tok := client.Subscribe(prefix+"/cmd/result", 1, func(_ paho.Client, m paho.Message) {
		var r uhn.CommandResult
		if err := json.Unmarshal(m.Payload(), &r); err != nil || r.ID != cmd.ID {
			return
		}
		select {
		case results <- r:
		default:
		}
	})
	if tok.Wait() && tok.Error() != nil {
		return uhn.CommandResult{}, fmt.Errorf("subscribe: %w", tok.Error())
	}

	if err := mqtt.PublishJSON(client, prefix+"/cmd", 1, false, cmd, 5*time.Second); err != nil {
		return uhn.CommandResult{}, err
	}
	fmt.Printf("Sent %s (%s)\n", cmd.Action, cmd.ID)

	select {
	case r := <-results:
		return r, nil
	case <-time.After(*c.timeout):
		return uhn.CommandResult{}, fmt.Errorf("no result for %s within %s", cmd.ID, *c.timeout)
	}
}

func printResult(r uhn.CommandResult) {
	mark := "OK"
	if !r.Success {
		mark = "FAILED"
	}
	fmt.Printf("%s: %s\n", mark, r.Message)
	if r.StatusText != "" {
		fmt.Printf("  status: %s\n", r.StatusText)
	}
	if r.Value == nil {
		return
	}
	if snap, ok := r.Value.(map[string]any); ok {
		if entries, ok := snap["entries"].([]any); ok {
			for _, e := range entries {
				printEntry(e)
			}
			return
		}
	}
	b, _ := json.Marshal(r.Value)
	fmt.Printf("  value: %s\n", b)
}

func printEntry(e any) {
	m, ok := e.(map[string]any)
	if !ok {
		return
	}
	line := fmt.Sprintf("  %-26v %v", m["name"], m["value"])
	if t, ok := m["statusText"].(string); ok && t != "" {
		line += " (" + t + ")"
	}
	if ok, _ := m["success"].(bool); !ok {
		line += "  ! " + fmt.Sprint(m["message"])
	}
	fmt.Println(line)
}

func listPorts() {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}
		fmt.Println(port)
	}
}
