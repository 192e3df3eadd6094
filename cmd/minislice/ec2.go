// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/config"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"

	// We bring these in so we can show the user all the defaults when
	// writing the profile.
	_ "github.com/grailbio/base/config/aws"
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/minislice/exec"
	"github.com/grailbio/minislice/sliceconfig"
)

func setupEc2Usage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: minislice setup-ec2 [-securitygroup name] [-instance type]

Command setup-ec2 sets up a security group so that minislice programs
can run on AWS EC2. Once complete, the resulting configuration is
written to the minislice configuration file at `, sliceconfig.Path, `.
If a configuration file already exists, then it is modified in place.

If a security group with the given name already exists, no new group
is created, but the configuration is modified to include that
security group.

The minislice security group is set up with the following rules:

	allowed: all traffic within the default VPC
	allowed: all outbound
	allowed: inbound SSH connections
	allowed: inbound HTTPS connections

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func setupEc2Cmd(args []string) {
	var (
		flags         = flag.NewFlagSet("minislice setup-ec2", flag.ExitOnError)
		securityGroup = flags.String("securitygroup", "minislice", "name of the security group to set up")
		instance      = flags.String("instance", "m5.xlarge", "EC2 instance type of the workers")
	)
	flags.Usage = func() { setupEc2Usage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 {
		flags.Usage()
	}

	profile, err := readProfile(sliceconfig.Path)
	must.Nil(err, sliceconfig.Path)
	var svc ec2iface.EC2API
	if _, ok := configuredSecurityGroup(profile); !ok {
		sess, err := session.NewSession()
		must.Nil(err, "setting up AWS session")
		svc = ec2.New(sess)
	}
	must.Nil(configureEC2(profile, svc, *securityGroup, *instance))
	must.Nil(writeProfile(sliceconfig.Path, profile))
	log.Printf("wrote configuration to %s", sliceconfig.Path)
}

func configuredSecurityGroup(profile *config.Profile) (string, bool) {
	v, ok := profile.Get("bigmachine/ec2system.security-group")
	if !ok || v == `""` {
		return "", false
	}
	return v, true
}

// configureEC2 updates profile so that minislice sessions run on EC2
// instances of the given type, in the named security group. The
// security group is created through svc if the profile does not
// already name one.
func configureEC2(profile *config.Profile, svc ec2iface.EC2API, securityGroup, instance string) error {
	if region, ok := profile.Get("aws/env.region"); ok && len(region) > 0 {
		if err := profile.Set("bigmachine/ec2system.default-region", strings.Trim(region, `"`)); err != nil {
			return err
		}
	}
	if v, ok := configuredSecurityGroup(profile); ok {
		log.Printf("ec2 security group %s already configured", v)
	} else {
		ident, err := setupEC2SecurityGroup(svc, securityGroup)
		if err != nil {
			return errors.E("setting up security group", err)
		}
		if err := profile.Set("bigmachine/ec2system.security-group", ident); err != nil {
			return err
		}
		log.Printf("set up new security group %s", ident)
	}
	if err := profile.Set(exec.ConfigName+".system", "bigmachine/ec2system"); err != nil {
		return err
	}
	return profile.Set("bigmachine/ec2system.instance", instance)
}

func setupEC2SecurityGroup(svc ec2iface.EC2API, name string) (string, error) {
	describeResp, err := svc.DescribeSecurityGroups(&ec2.DescribeSecurityGroupsInput{
		Filters: []*ec2.Filter{
			{
				Name:   aws.String("group-name"),
				Values: []*string{aws.String(name)},
			},
		},
	})
	if err != nil {
		return "", errors.E(errors.Unavailable, fmt.Sprintf("unable to query existing security group %s", name), err)
	}
	if len(describeResp.SecurityGroups) > 0 {
		id := aws.StringValue(describeResp.SecurityGroups[0].GroupId)
		log.Printf("found existing minislice security group %s", id)
		return id, nil
	}
	log.Printf("no existing minislice security group found; creating new")
	// Workers are launched into the default VPC.
	vpcResp, err := svc.DescribeVpcs(&ec2.DescribeVpcsInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("isDefault"),
			Values: []*string{aws.String("true")},
		}},
	})
	if err != nil {
		return "", errors.E(errors.Unavailable, "retrieve default VPC", err)
	}
	switch len(vpcResp.Vpcs) {
	case 0:
		return "", errors.E(errors.Precondition,
			"AWS account does not have a default VPC and requires manual setup.\n"+
				"See https://docs.aws.amazon.com/vpc/latest/userguide/default-vpc.html#create-default-vpc")
	case 1:
	default:
		return "", errors.E(errors.Precondition, "AWS account has multiple default VPCs; needs manual setup")
	}
	vpc := vpcResp.Vpcs[0]
	log.Printf("found default VPC %s", aws.StringValue(vpc.VpcId))
	resp, err := svc.CreateSecurityGroup(&ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(name),
		Description: aws.String("security group automatically created by minislice setup-ec2"),
		VpcId:       vpc.VpcId,
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("create security group %s", name), err)
	}

	id := aws.StringValue(resp.GroupId)
	log.Printf("authorizing ingress traffic for security group %s", id)
	_, err = svc.AuthorizeSecurityGroupIngress(&ec2.AuthorizeSecurityGroupIngressInput{
		GroupName: aws.String(name),
		IpPermissions: []*ec2.IpPermission{
			// All internal traffic.
			{
				IpProtocol: aws.String("-1"),
				IpRanges:   []*ec2.IpRange{{CidrIp: vpc.CidrBlock}},
				FromPort:   aws.Int64(0),
				ToPort:     aws.Int64(0),
			},
			// SSH.
			{
				IpProtocol: aws.String("tcp"),
				IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
				FromPort:   aws.Int64(22),
				ToPort:     aws.Int64(22),
			},
			// Bigmachine worker connections (HTTPS).
			{
				IpProtocol: aws.String("tcp"),
				IpRanges:   []*ec2.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
				FromPort:   aws.Int64(443),
				ToPort:     aws.Int64(443),
			},
		},
	})
	if err != nil {
		return "", errors.E(fmt.Sprintf("authorize security group %s for ingress traffic", id), err)
	}
	// The default egress rules permit all outgoing traffic.
	_, err = svc.CreateTags(&ec2.CreateTagsInput{
		Resources: []*string{aws.String(id)},
		Tags: []*ec2.Tag{
			{Key: aws.String("minislice-sg"), Value: aws.String("true")},
			{Key: aws.String("Name"), Value: aws.String("minislice")},
		},
	})
	if err != nil {
		log.Printf("tag security group %s: %v", id, err)
	}
	log.Printf("created security group %v", id)
	return id, nil
}
