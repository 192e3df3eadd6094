// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package sliceflags provides flag support for minislice command
// line applications: the choice of system (the master that runs the
// computation), its options, and the session's parallelism and
// application name.
package sliceflags

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/minislice/exec"
)

// DefaultAppName is the application name used when -app is not given.
const DefaultAppName = "helloword"

var (
	mu        sync.Mutex
	providers = map[string]Provider{} // protected by mu
	profiles  = map[string]string{}   // protected by mu
)

// Provider provides the systems on which sessions run. A provider is
// configured through options given as key=val.
type Provider interface {
	// Name returns the name of the provider.
	Name() string
	// Set sets an option, given as key=val.
	Set(string) error
	// ExecOption returns the exec.Option that selects the provider's
	// system as currently configured.
	ExecOption() exec.Option
	// DefaultParallelism returns the parallelism used when none is
	// requested.
	DefaultParallelism() int
}

// A Checker is a Provider that can verify that its system is
// reachable before a session is started.
type Checker interface {
	Check() error
}

// RegisterSystemProvider registers a provider under the given name.
func RegisterSystemProvider(name string, provider Provider) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("system %s is already registered", name)
	}
	providers[name] = provider
}

// RegisterSystemProfile registers a profile: a named shorthand for a
// system and its options. For example, after
//
//	sliceflags.RegisterSystemProfile("my-ec2-app", "ec2:dataspace=500")
//
// the flag -system=my-ec2-app is a synonym for
// -system=ec2:dataspace=500.
func RegisterSystemProfile(name, profile string) {
	mu.Lock()
	defer mu.Unlock()
	if _, present := providers[name]; present {
		log.Panicf("profile %s is already used as a provider name", name)
	}
	if _, present := profiles[name]; present {
		log.Panicf("profile %s is already registered", name)
	}
	profiles[name] = profile
}

// ProvidersAndProfiles returns the registered providers and profiles.
func ProvidersAndProfiles() ([]string, map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	prv := make([]string, 0, len(providers))
	for k := range providers {
		prv = append(prv, k)
	}
	prf := make(map[string]string, len(profiles))
	for k, v := range profiles {
		prf[k] = v
	}
	return prv, prf
}

// Internal runs sessions in-process.
type Internal struct{}

// Name implements Provider.Name.
func (*Internal) Name() string { return "internal" }

// Set implements Provider.Set.
func (*Internal) Set(_ string) error {
	return errors.E(errors.Invalid, "the internal provider does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Internal) ExecOption() exec.Option { return exec.Local }

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Internal) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// Local runs sessions on bigmachine workers that are separate
// processes on the local machine.
type Local struct{}

// Name implements Provider.Name.
func (*Local) Name() string { return "local" }

// Set implements Provider.Set.
func (*Local) Set(_ string) error {
	return errors.E(errors.Invalid, "the local provider does not support any configuration")
}

// ExecOption implements Provider.ExecOption.
func (*Local) ExecOption() exec.Option { return exec.Bigmachine(bigmachine.Local) }

// DefaultParallelism implements Provider.DefaultParallelism.
func (*Local) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// EC2 runs sessions on bigmachine workers on AWS EC2 instances.
type EC2 struct {
	Options map[string]interface{}

	// newSession returns the AWS session used by Check.
	newSession func() (*session.Session, error)
}

// Name implements Provider.Name.
func (*EC2) Name() string { return "EC2" }

// Set implements Provider.Set.
func (ec2 *EC2) Set(v string) error {
	if ec2.Options == nil {
		ec2.Options = make(map[string]interface{}, 5)
	}
	parts := strings.Split(v, "=")
	if len(parts) != 2 {
		return errors.E(errors.Invalid, fmt.Sprintf("not in key=val format %q", v))
	}
	key, val := parts[0], parts[1]
	switch key {
	case "dataspace", "rootsize":
		i, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("not an int: %v", val))
		}
		ec2.Options[key] = uint(i)
	case "instance", "profile":
		ec2.Options[key] = val
	case "ondemand":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.E(errors.Invalid, fmt.Sprintf("not a bool: %v", val))
		}
		ec2.Options[key] = b
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("unsupported option: %v", key))
	}
	return nil
}

// DefaultParallelism implements Provider.DefaultParallelism.
func (*EC2) DefaultParallelism() int { return runtime.GOMAXPROCS(0) }

// System returns the ec2system.System configured by the provider's
// options.
func (ec2 *EC2) System() *ec2system.System {
	system := &ec2system.System{Username: "unknown"}
	if u, err := user.Current(); err == nil {
		system.Username = u.Username
	} else {
		log.Printf("ec2: get current user: %v", err)
	}
	for key, val := range ec2.Options {
		switch key {
		case "instance":
			system.InstanceType = val.(string)
		case "dataspace":
			system.Dataspace = val.(uint)
		case "rootsize":
			system.Diskspace = val.(uint)
		case "profile":
			system.InstanceProfile = val.(string)
		case "ondemand":
			system.OnDemand = val.(bool)
		}
	}
	return system
}

// ExecOption implements Provider.ExecOption.
func (ec2 *EC2) ExecOption() exec.Option {
	return exec.Bigmachine(ec2.System())
}

// Check implements Checker. It verifies that AWS credentials are
// available, since no EC2 instance can be launched without them.
func (ec2 *EC2) Check() error {
	newSession := ec2.newSession
	if newSession == nil {
		newSession = func() (*session.Session, error) { return session.NewSession() }
	}
	sess, err := newSession()
	if err != nil {
		return errors.E(errors.Unavailable, "ec2: create AWS session", err)
	}
	if _, err := sess.Config.Credentials.Get(); err != nil {
		return errors.E(errors.Unavailable, "ec2: no AWS credentials", err)
	}
	return nil
}

func init() {
	RegisterSystemProvider("local", &Local{})
	RegisterSystemProvider("internal", &Internal{})
	RegisterSystemProvider("ec2", &EC2{})
}

// SystemHelpShort is a short explanation of the allowed system flag
// values.
func SystemHelpShort(prefix string) string {
	const format = `the system that runs the computation: {internal,local,ec2[:key=val,...],<profile>}; see -%s`
	return fmt.Sprintf(format, prefix+"system-help")
}

// SystemHelpLong explains the allowed system flag values.
const SystemHelpLong = `A minislice system is specified as follows:

<system-type>[:<options>] where options is key=value[,key=value]*

The supported systems and their options are:

internal: in-process execution, the default.
local: same machine, separate process execution.
ec2: AWS EC2 execution. The supported options are:
	instance=<AWS instance type> - the AWS instance type, e.g. m4.xlarge
	dataspace=<number> - size of the data volume in GiB
	rootsize=<number> - size of the root volume in GiB
	ondemand=<bool> - use on-demand rather than spot instances
	profile=<name> - the AWS instance profile to use

Applications may also register profiles, shorthands for a system and
its options.
`

// SystemFlag is a flag.Value that selects a provider and its
// options.
type SystemFlag struct {
	Provider  Provider
	Options   []string
	Specified bool
}

// String implements flag.Value.String.
func (sys *SystemFlag) String() string {
	if sys.Provider == nil {
		return ""
	}
	if len(sys.Options) == 0 {
		return sys.Provider.Name()
	}
	return fmt.Sprintf("%v:%v", sys.Provider.Name(), strings.Join(sys.Options, ","))
}

// Set implements flag.Value.Set.
func (sys *SystemFlag) Set(v string) error {
	parse := func(s string) (name string, options []string) {
		parts := strings.SplitN(s, ":", 2)
		name = parts[0]
		if len(parts) > 1 {
			options = strings.Split(parts[1], ",")
		}
		return
	}

	name, options := parse(v)
	mu.Lock()
	if profile, ok := profiles[name]; ok {
		var profileOptions []string
		name, profileOptions = parse(profile)
		options = append(profileOptions, options...)
	}
	provider, ok := providers[name]
	mu.Unlock()
	if !ok {
		return errors.E(errors.Invalid, fmt.Sprintf("unsupported system or profile: %v", name))
	}
	for _, opt := range options {
		if err := provider.Set(opt); err != nil {
			return err
		}
	}
	sys.Options = options
	sys.Provider = provider
	sys.Specified = true
	return nil
}

// Get implements flag.Getter.
func (sys *SystemFlag) Get() interface{} {
	return sys.String()
}

// Flags holds the flags that configure a minislice command.
type Flags struct {
	System        SystemFlag
	SystemHelp    bool
	HTTPAddress   cmdutil.NetworkAddressFlag
	ConsoleStatus bool
	Parallelism   int
	Machines      int
	AppName       string
	fs            *flag.FlagSet
}

// Output returns the writer for help and usage messages of the
// underlying flag set.
func (bf *Flags) Output() io.Writer {
	if bf.fs == nil {
		return os.Stderr
	}
	if wr := bf.fs.Output(); wr != nil {
		return wr
	}
	return os.Stderr
}

// Defaults holds default values for the flags.
type Defaults struct {
	System        string
	HTTPAddress   string
	ConsoleStatus bool
	Parallelism   int
	Machines      int
	AppName       string
}

// RegisterFlags registers the minislice flags with the supplied flag
// set, prefixing their names with prefix.
func RegisterFlags(fs *flag.FlagSet, bf *Flags, prefix string) {
	RegisterFlagsWithDefaults(fs, bf, prefix, Defaults{
		System:      "internal",
		HTTPAddress: ":3333",
		AppName:     DefaultAppName,
	})
}

// RegisterFlagsWithDefaults registers the minislice flags with the
// supplied flag set and defaults, prefixing their names with prefix.
func RegisterFlagsWithDefaults(fs *flag.FlagSet, bf *Flags, prefix string, defaults Defaults) {
	fs.Var(&bf.System, prefix+"system", SystemHelpShort(prefix))
	if err := bf.System.Set(defaults.System); err != nil {
		log.Panicf("sliceflags: invalid default system %q: %v", defaults.System, err)
	}
	bf.System.Specified = false
	fs.Var(&bf.HTTPAddress, prefix+"http", "address of the http status server; empty disables it")
	if defaults.HTTPAddress != "" {
		bf.HTTPAddress.Set(defaults.HTTPAddress)
		bf.HTTPAddress.Specified = false
	}
	fs.BoolVar(&bf.ConsoleStatus, prefix+"consolestatus", defaults.ConsoleStatus, "print status to stderr")
	fs.IntVar(&bf.Parallelism, prefix+"parallelism", defaults.Parallelism, "maximum degree of parallelism in CPU cores; 0 requests a default for the system")
	fs.IntVar(&bf.Machines, prefix+"machines", defaults.Machines, "number of machines to start; 0 derives it from the parallelism")
	fs.StringVar(&bf.AppName, prefix+"app", defaults.AppName, "application name reported in status and events")
	fs.BoolVar(&bf.SystemHelp, prefix+"system-help", false, "print help on systems and profiles")
	bf.fs = fs
}

// Master returns a description of the selected system, for use in
// diagnostics.
func (bf *Flags) Master() string {
	if s := bf.System.String(); s != "" {
		return s
	}
	return "internal"
}

// Check verifies that the selected system is reachable, if its
// provider supports checking.
func (bf *Flags) Check() error {
	if checker, ok := bf.System.Provider.(Checker); ok {
		return checker.Check()
	}
	return nil
}

// ExecOptions returns the exec options selected by the flags.
func (bf *Flags) ExecOptions() ([]exec.Option, error) {
	if bf.System.Provider == nil {
		if err := bf.System.Set("internal"); err != nil {
			return nil, err
		}
	}
	sliceStatus := new(status.Status)
	// Display bigmachine's group first.
	_ = sliceStatus.Group(exec.BigmachineStatusGroup)

	options := []exec.Option{
		exec.Status(sliceStatus),
		bf.System.Provider.ExecOption(),
	}
	p := bf.Parallelism
	if p <= 0 {
		p = bf.System.Provider.DefaultParallelism()
	}
	options = append(options, exec.Parallelism(p))
	if bf.Machines > 0 {
		options = append(options, exec.Machines(bf.Machines))
	}
	appName := bf.AppName
	if appName == "" {
		appName = DefaultAppName
	}
	options = append(options, exec.Name(appName))
	return options, nil
}
