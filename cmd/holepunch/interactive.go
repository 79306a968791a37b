package main

import (
	"os"
	"slices"
	"strings"

	"github.com/pterm/pterm"

	"github.com/1ureka/holepunch/internal/config"
	"github.com/1ureka/holepunch/internal/util"
)

// methodChoices lists every registered method, the default ones first in
// their preference order.
func methodChoices(registered []string) []string {
	choices := slices.Clone(config.DefaultMethods)
	for _, name := range registered {
		if !slices.Contains(choices, name) {
			choices = append(choices, name)
		}
	}
	return choices
}

// runInteractive asks for the role and the few settings that have no sane
// default. Everything else keeps its default value.
func runInteractive(registered []string) *config.Config {
	choices := methodChoices(registered)


	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Server — accept tunnel clients", "Client — connect to a server"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	cfg := &config.Config{Role: config.RoleServer}
	if strings.HasPrefix(role, "Client") {
		cfg.Role = config.RoleClient
		cfg.Address = askAddress()
	}

	methods, _ := pterm.DefaultInteractiveMultiselect.
		WithOptions(choices).
		WithDefaultOptions(config.DefaultMethods).
		WithDefaultText("Transport methods (in order)").
		Show()
	pterm.Println()
	cfg.Methods = orderMethods(choices, methods)

	password, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText("Password (empty for default)").
		WithMask("*").
		Show()
	pterm.Println()
	cfg.Password = strings.TrimSpace(password)

	cfg.ApplyDefaults()
	return cfg
}

// askAddress prompts until a non-empty server address is entered.
func askAddress() string {
	log := util.NewLogger(os.Stderr, util.LevelInfo)
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Server address (host or host:port)").
			Show()

		pterm.Println()
		if addr := strings.TrimSpace(raw); addr != "" {
			return addr
		}
		log.Warning("invalid input: please enter a host name or IP address")
	}
}

// orderMethods returns the selected methods in the order of choices rather
// than the order they were ticked.
func orderMethods(choices, selected []string) []string {
	var out []string
	for _, m := range choices {
		if slices.Contains(selected, m) {
			out = append(out, m)
		}
	}
	return out
}
