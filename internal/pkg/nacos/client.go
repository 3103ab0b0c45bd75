// internal/pkg/nacos/client.go
package nacos

import (
	"net"
	"strconv"
	"strings"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/naming_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"promohub/internal/pkg/logger"
)

// Client 封装了 Nacos 命名客户端
type Client struct {
	namingClient naming_client.INamingClient
	groupName    string
}

// ParseServerConfigs 解析 "ip1:port1,ip2:port2" 格式的地址列表
func ParseServerConfigs(addrs string) ([]constant.ServerConfig, error) {
	var serverConfigs []constant.ServerConfig
	for _, addr := range strings.Split(addrs, ",") {
		host, portStr, err := net.SplitHostPort(strings.TrimSpace(addr))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid nacos address format: %s", addr)
		}
		port, err := strconv.ParseUint(portStr, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid port in nacos address: %s", portStr)
		}
		serverConfigs = append(serverConfigs, *constant.NewServerConfig(host, port))
	}
	return serverConfigs, nil
}

// NewNacosClient 创建并返回一个新的 Nacos 客户端
func NewNacosClient(addrs string, namespaceId, groupName string) (*Client, error) {
	if namespaceId == "" {
		logger.L().Warn().Msg("NACOS_NAMESPACE is not set, using default public namespace")
	}
	if groupName == "" {
		groupName = "DEFAULT_GROUP" // Nacos 默认分组
	}

	serverConfigs, err := ParseServerConfigs(addrs)
	if err != nil {
		return nil, err
	}

	clientConfig := *constant.NewClientConfig(
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir("/tmp/nacos/log"),
		constant.WithCacheDir("/tmp/nacos/cache"),
		constant.WithLogLevel("warn"),
		constant.WithNamespaceId(namespaceId),
	)

	namingClient, err := clients.NewNamingClient(
		vo.NacosClientParam{
			ClientConfig:  &clientConfig,
			ServerConfigs: serverConfigs,
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create nacos naming client")
	}

	logger.L().Info().Str("addrs", addrs).Str("group", groupName).Msg("connected to nacos")
	return &Client{namingClient: namingClient, groupName: groupName}, nil
}

// Instance 描述本进程注册到 Nacos 的实例
type Instance struct {
	ServiceName string
	IP          string
	Port        int
	// Metadata 随实例注册，例如 node 与 env，便于排查推送落在哪个节点
	Metadata map[string]string
}

// RegisterServiceInstance 以临时实例注册，心跳断开后由 Nacos 摘除
func (c *Client) RegisterServiceInstance(in Instance) error {
	ok, err := c.namingClient.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.ServiceName,
		GroupName:   c.groupName,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    in.Metadata,
	})
	if err != nil {
		return errors.Wrapf(err, "register %s with nacos", in.ServiceName)
	}
	if !ok {
		return errors.Errorf("nacos rejected registration of %s", in.ServiceName)
	}
	logger.L().Info().Str("service", in.ServiceName).Str("ip", in.IP).Int("port", in.Port).Msg("registered to nacos")
	return nil
}

func (c *Client) DeregisterServiceInstance(in Instance) error {
	_, err := c.namingClient.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          in.IP,
		Port:        uint64(in.Port),
		ServiceName: in.ServiceName,
		GroupName:   c.groupName,
		Ephemeral:   true,
	})
	if err != nil {
		return errors.Wrapf(err, "deregister %s from nacos", in.ServiceName)
	}
	logger.L().Info().Str("service", in.ServiceName).Msg("deregistered from nacos")
	return nil
}

// DiscoverServiceInstance 按权重选出一个健康实例，返回 gRPC 可直接使用的 "ip:port"
func (c *Client) DiscoverServiceInstance(serviceName string) (string, error) {
	in, err := c.namingClient.SelectOneHealthyInstance(vo.SelectOneHealthInstanceParam{
		ServiceName: serviceName,
		GroupName:   c.groupName,
	})
	if err != nil {
		return "", errors.Wrapf(err, "discover %s", serviceName)
	}
	if in == nil {
		return "", errors.Errorf("no healthy instance of %s", serviceName)
	}
	return net.JoinHostPort(in.Ip, strconv.FormatUint(in.Port, 10)), nil
}
