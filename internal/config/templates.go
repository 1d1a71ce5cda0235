package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "manifest":
		return manifestTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `server_host = "127.0.0.1"
server_port = 9100
client_port = 0
transport = "tcp"
ws_path = "/bridge"
world_name = "world"
simulation_name = "simulation"
update_rate = 60
frame_rate = 120
api_callbacks_enabled = false
api_callbacks_rate = 1
max_connect_attempts = 0
connect_timeout = "5s"
handshake_timeout = "5s"
negotiate_timeout = "0s"
read_timeout = "2s"
write_timeout = "2s"
security_mode = "development"
admin_addr = "127.0.0.1:9180"
admin_token = ""
cors_origins = ["http://localhost:3000"]
manifest = "scene.toml"

[tls]
enabled = false
mutual = false
ca_file = ""
cert_file = ""
key_file = ""
server_name = ""
insecure_skip_verify = false
`

const manifestTemplate = `[[objects]]
name = "cube"
kind = "rigid_body"
position = [0.0, 0.0, 50.0]
send = ["position", "quaternion"]

[[objects]]
name = "target"
kind = "rigid_body"
receive = ["position"]

[[objects]]
name = "arm"
kind = "articulated"
bones = ["shoulder_revolute_bone", "slide_prismatic_bone"]
send = ["joint_rvalue", "joint_tvalue"]

[[objects]]
name = "camera"
kind = "camera"
position = [-200.0, 0.0, 100.0]
send = ["position", "rgb_128_128", "depth_128_128"]
`
