package banner

import (
	"fmt"

	"chatmon/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗███╗   ███╗ ██████╗ ███╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝████╗ ████║██╔═══██╗████╗  ██║
██║     ███████║███████║   ██║   ██╔████╔██║██║   ██║██╔██╗ ██║
██║     ██╔══██║██╔══██║   ██║   ██║╚██╔╝██║██║   ██║██║╚██╗██║
╚██████╗██║  ██║██║  ██║   ██║   ██║ ╚═╝ ██║╚██████╔╝██║ ╚████║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝     ╚═╝ ╚═════╝ ╚═╝  ╚═══╝
`

// PrintWithEff prints the startup banner with the effective runtime info.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	dbPath := eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Storage.DBPath
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:      %s\n", addr)
	fmt.Printf("Journal:     %s\n", dbPath)
	if eff.Config != nil {
		fmt.Printf("Message log: %s\n", eff.Config.Storage.MessagesDB)
		fmt.Printf("Tags:        %s %s\n", eff.Config.Watch.AITag, eff.Config.Watch.TaskTag)
	}
	if version != "" {
		fmt.Printf("Version:     %s\n", version)
	}
	fmt.Printf("Config:      %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/resolutions            - Begin an identity resolution")
	fmt.Println("GET  /v1/resolutions/{id}       - Check a resolution")
	fmt.Println("POST /v1/resolutions/{id}/wait  - Wait for a resolution reply")
	fmt.Println("GET  /v1/identities?query=<q>   - Score the directory against a query")
	fmt.Println("POST /v1/tasks                  - Create a record (interactive assignee)")
	fmt.Println("GET  /v1/actions?since=<t>      - List completed actions")
	fmt.Println("GET  /metrics, /docs/, /healthz, /readyz")

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/resolutions' -d '{\"query\":\"john\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/identities?query=john'")
}
