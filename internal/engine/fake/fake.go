// Package fake has a scripted host that behaves like a fresh machine for the default
// stack, used for dry runs and demos.
package fake

import (
	"time"

	"github.com/slok/orca/internal/remote/fake"
)

// HostConfig is the demo host configuration.
type HostConfig struct {
	// Delay is the pause between the output chunks of the programs.
	Delay time.Duration
}

func (c *HostConfig) defaults() {
	if c.Delay == 0 {
		c.Delay = 300 * time.Millisecond
	}
}

// NewHost returns a host where nothing is installed yet. The installer programs ask the
// same questions as the real ones.
func NewHost(cfg HostConfig) *fake.Host {
	cfg.defaults()
	d := cfg.Delay

	h := fake.NewHost()

	// Guards: nothing installed.
	h.OnRun(`^dpkg -s `, fake.Fail(1, "dpkg-query: package is not installed\n"))
	h.OnRun(`^getent group `, fake.Exit(2, ""))
	h.OnRun(`^test "\$\(hostname -f\)"`, fake.Exit(1, ""))
	h.OnRun(`^systemctl is-active`, fake.Exit(3, ""))
	h.OnRun(`^ipa-replica-manage list`, fake.Fail(1, "unknown host\n"))

	h.OnRun(`^apt-get update`, fake.Exit(0, "Hit:1 http://archive.ubuntu.com/ubuntu noble InRelease\nReading package lists... Done\n"))
	h.OnRun(`apt-get install`, fake.Exit(0, "Reading package lists... Done\nBuilding dependency tree... Done\nSetting up packages ... done\n"))
	h.OnRun(`^ipa-backup`, fake.Exit(0, "Backed up to /var/lib/ipa/backup/ipa-data-2026-01-30-10-00-00\nThe ipa-backup command was successful\n"))

	h.OnInteractive(`^ipa-server-install`, fake.Script{
		fake.Say("The log file for this installation can be found in /var/log/ipaserver-install.log\n"),
		fake.Wait(d),
		fake.Say("This program will set up the IPA Server.\n"),
		fake.Say("Do you want to configure integrated DNS (BIND)? [no]: "),
		fake.Expect(""),
		fake.Say("Directory Manager password: "),
		fake.Expect(""),
		fake.Say("Password (confirm): "),
		fake.Expect(""),
		fake.Wait(d),
		fake.Say("Configuring directory server (dirsrv). Estimated time: 30 seconds\n"),
		fake.Wait(d),
		fake.Say("  [1/41]: creating directory server instance\n"),
		fake.Wait(d),
		fake.Say("  [41/41]: restarting directory server\n"),
		fake.Say("Done configuring directory server (dirsrv).\n"),
		fake.Say("The ipa-server-install command was successful\n"),
	})

	h.OnInteractive(`^ipa-dns-install`, fake.Script{
		fake.Say("This program will setup DNS for the IPA Server.\n"),
		fake.Wait(d),
		fake.Say("Do you want to search for missing reverse zones? [yes]: "),
		fake.Expect(""),
		fake.Wait(d),
		fake.Say("Configuring DNS (named)\n"),
		fake.Say("The ipa-dns-install command was successful\n"),
	})

	h.OnInteractive(`^ipa-replica-install`, fake.Script{
		fake.Say("Password for admin@EXAMPLE.COM: "),
		fake.Expect(""),
		fake.Wait(d),
		fake.Say("Run connection check to master\n"),
		fake.Wait(d),
		fake.Say("Connection check OK\n"),
		fake.Say("Configuring directory server (dirsrv)\n"),
		fake.Say("The ipa-replica-install command was successful\n"),
	})

	return h
}
