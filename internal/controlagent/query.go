package controlagent

import "github.com/ndmpd/ndmpd/internal/protocol/ndmp9"

// AgentInfo is one remote agent's answers to the seven CONFIG_GET_* queries
// QUERY_AGENTS rolls up, gathered over whichever control connection the
// caller passes in. Fields are left at their zero value when the agent's
// role doesn't apply (e.g. a DATA-only connection has no ScsiDevices).
type AgentInfo struct {
	Host        *ndmp9.HostInfoReply
	ConnTypes   *ndmp9.ConnectionTypeReply
	ServerInfo  *ndmp9.ServerInfoReply
	Filesystems []ndmp9.FsInfo
	TapeDevices []ndmp9.TapeInfo
	ScsiDevices []ndmp9.ScsiInfo
	Butypes     map[string]uint32
}

// QueryAgent gathers a remote agent's host identity, image-stream
// connection types, and server info — the three queries every agent
// answers regardless of role.
func QueryAgent(client *Client) (*AgentInfo, error) {
	info := &AgentInfo{}

	host, err := client.callOK(ndmp9.ConfigGetHost, nil)
	if err != nil {
		return nil, err
	}
	info.Host = host.(*ndmp9.HostInfoReply)

	connType, err := client.callOK(ndmp9.ConfigGetConnectionType, nil)
	if err != nil {
		return nil, err
	}
	info.ConnTypes = connType.(*ndmp9.ConnectionTypeReply)

	server, err := client.callOK(ndmp9.ConfigGetServerInfo, nil)
	if err != nil {
		return nil, err
	}
	info.ServerInfo = server.(*ndmp9.ServerInfoReply)

	return info, nil
}

// QueryButypeAttrs asks a DATA agent for the attribute bits of each named
// bu_type, populating AgentInfo.Butypes.
func QueryButypeAttrs(client *Client, info *AgentInfo, butypeNames []string) error {
	info.Butypes = make(map[string]uint32, len(butypeNames))
	for _, name := range butypeNames {
		reply, err := client.callOK(ndmp9.ConfigGetButypeAttr, &ndmp9.ConfigGetButypeAttrRequest{ButypeName: name})
		if err != nil {
			return err
		}
		info.Butypes[name] = reply.(*ndmp9.ButypeAttrReply).Attrs
	}
	return nil
}

// QueryFilesystems asks a DATA agent which filesystems it can back up or
// restore into.
func QueryFilesystems(client *Client, info *AgentInfo) error {
	reply, err := client.callOK(ndmp9.ConfigGetFsInfo, nil)
	if err != nil {
		return err
	}
	info.Filesystems = reply.(*ndmp9.FsInfoReply).Filesystems
	return nil
}

// QueryTapeDevices asks a TAPE agent which tape devices it can drive.
func QueryTapeDevices(client *Client, info *AgentInfo) error {
	reply, err := client.callOK(ndmp9.ConfigGetTapeInfo, nil)
	if err != nil {
		return err
	}
	info.TapeDevices = reply.(*ndmp9.TapeInfoReply).Devices
	return nil
}

// QueryScsiDevices asks a TAPE or ROBOT agent which SCSI devices (drives
// and media changers) it can drive.
func QueryScsiDevices(client *Client, info *AgentInfo) error {
	reply, err := client.callOK(ndmp9.ConfigGetScsiInfo, nil)
	if err != nil {
		return err
	}
	info.ScsiDevices = reply.(*ndmp9.ScsiInfoReply).Devices
	return nil
}

// QueryAgents gathers QUERY_AGENTS' full rollup for the job's DATA and
// TAPE connections: host info, connection types, and server info from
// both, plus DATA's filesystems and butype attributes and TAPE's devices.
// ROBOT has no control connection of its own (SMC moves are driven
// directly through the RobotDriver interface) and is not queried here.
func (j *Job) QueryAgents(butypeNames []string) (data, tape *AgentInfo, err error) {
	if j.Agents.DataConn != nil {
		dataClient := &Client{Transport: j.Agents.DataConn, Version: j.Agents.DataVer, TimeLimit: j.CallTimeout}
		data, err = QueryAgent(dataClient)
		if err != nil {
			return nil, nil, err
		}
		if err := QueryFilesystems(dataClient, data); err != nil {
			return nil, nil, err
		}
		if len(butypeNames) > 0 {
			if err := QueryButypeAttrs(dataClient, data, butypeNames); err != nil {
				return nil, nil, err
			}
		}
	}

	if j.Agents.TapeConn != nil {
		tapeClient := &Client{Transport: j.Agents.TapeConn, Version: j.Agents.TapeVer, TimeLimit: j.CallTimeout}
		tape, err = QueryAgent(tapeClient)
		if err != nil {
			return data, nil, err
		}
		if err := QueryTapeDevices(tapeClient, tape); err != nil {
			return data, nil, err
		}
		if err := QueryScsiDevices(tapeClient, tape); err != nil {
			return data, nil, err
		}
	}

	return data, tape, nil
}
