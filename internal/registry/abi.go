package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minimal ABIs covering the functions and events the coordinator touches.

const coordinatorABI = `[
 {"type":"function","name":"channelsCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"channels","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"channelPoint","type":"string"},
  {"name":"status","type":"uint256"},
  {"name":"appliedDate","type":"uint256"},
  {"name":"confirmedDate","type":"uint256"},
  {"name":"rewardAmount","type":"uint256"}]},
 {"type":"function","name":"nodes","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"capacity","type":"uint256"},
  {"name":"addedDate","type":"uint256"},
  {"name":"publicKey","type":"string"},
  {"name":"validatorAddress","type":"address"},
  {"name":"status","type":"uint256"},
  {"name":"verifiedDate","type":"uint256"},
  {"name":"to","type":"address"}]},
 {"type":"event","name":"LightningChannelOpeningPending","anonymous":false,"inputs":[
  {"name":"by","type":"address","indexed":true},
  {"name":"channelPoint","type":"string","indexed":false},
  {"name":"channelIndex","type":"uint256","indexed":true}]},
 {"type":"event","name":"LightningChannelOpeningConfirmed","anonymous":false,"inputs":[
  {"name":"by","type":"address","indexed":true},
  {"name":"channelId","type":"uint256","indexed":false},
  {"name":"channelIndex","type":"uint256","indexed":true}]}
]`

const oracleValidatorABI = `[
 {"type":"function","name":"minQuorum","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"oracleOpenChannelAnswers","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"oracleCloseChannelAnswers","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"execChannelOpening","stateMutability":"nonpayable","inputs":[
  {"name":"channelIndex","type":"uint256"},
  {"name":"channelCapacitySat","type":"uint256"},
  {"name":"channelId","type":"uint256"},
  {"name":"nodePublicKey","type":"string"},
  {"name":"node2PublicKey","type":"string"},
  {"name":"signatures","type":"bytes[]"}],"outputs":[]},
 {"type":"function","name":"execCloseChannel","stateMutability":"nonpayable","inputs":[
  {"name":"channelIndex","type":"uint256"},
  {"name":"closingTransactionId","type":"string"},
  {"name":"signatures","type":"bytes[]"}],"outputs":[]},
 {"type":"event","name":"ChannelOpeningCommit","anonymous":false,"inputs":[
  {"name":"leader","type":"address","indexed":true},
  {"name":"channelIndex","type":"uint256","indexed":true}]},
 {"type":"event","name":"ChannelOpeningVerify","anonymous":false,"inputs":[
  {"name":"validator","type":"address","indexed":true},
  {"name":"channelIndex","type":"uint256","indexed":true}]},
 {"type":"event","name":"ChannelClosingCommit","anonymous":false,"inputs":[
  {"name":"leader","type":"address","indexed":true},
  {"name":"channelIndex","type":"uint256","indexed":true}]},
 {"type":"event","name":"ChannelClosingVerify","anonymous":false,"inputs":[
  {"name":"validator","type":"address","indexed":true},
  {"name":"channelIndex","type":"uint256","indexed":true}]}
]`

const oceanABI = `[
 {"type":"function","name":"capacityRequestsCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"capacityRequests","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"capacity","type":"uint256"},
  {"name":"addedDate","type":"uint256"},
  {"name":"nodeUrl","type":"string"},
  {"name":"makerAddress","type":"address"},
  {"name":"status","type":"uint256"},
  {"name":"plennyReward","type":"uint256"},
  {"name":"channelPoint","type":"string"}]},
 {"type":"function","name":"cancelingRequestPeriod","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"makerIndexPerAddress","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"makers","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"makerName","type":"string"},
  {"name":"makerServiceUrl","type":"string"},
  {"name":"makerAddress","type":"address"},
  {"name":"makerNodeIndex","type":"uint256"},
  {"name":"makerProvidingAmount","type":"uint256"},
  {"name":"makerRatePl2Sat","type":"uint256"}]},
 {"type":"function","name":"requestLightningCapacity","stateMutability":"nonpayable","inputs":[
  {"name":"nodeUrl","type":"string"},
  {"name":"capacity","type":"uint256"},
  {"name":"makerAddress","type":"address"},
  {"name":"owner","type":"address"},
  {"name":"nonce","type":"uint256"},
  {"name":"signature","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"openChannelRequested","stateMutability":"nonpayable","inputs":[
  {"name":"channelPoint","type":"string"},
  {"name":"capacityRequestIndex","type":"uint256"}],"outputs":[]},
 {"type":"event","name":"CapacityRequestPending","anonymous":false,"inputs":[
  {"name":"by","type":"address","indexed":true},
  {"name":"capacity","type":"uint256","indexed":false},
  {"name":"makerAddress","type":"address","indexed":false},
  {"name":"capacityRequestIndex","type":"uint256","indexed":true}]},
 {"type":"event","name":"MakerAdded","anonymous":false,"inputs":[
  {"name":"account","type":"address","indexed":false},
  {"name":"created","type":"bool","indexed":false}]},
 {"type":"event","name":"MakerRemoved","anonymous":false,"inputs":[
  {"name":"account","type":"address","indexed":false}]}
]`

const validatorElectionABI = `[
 {"type":"function","name":"latestElectionBlock","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"getElectedValidatorsCount","stateMutability":"view","inputs":[{"name":"electionBlock","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"electedValidators","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"validators","stateMutability":"view","inputs":[{"name":"","type":"uint256"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"event","name":"NewValidators","anonymous":false,"inputs":[
  {"name":"newValidators","type":"address[]","indexed":false}]}
]`

const dappFactoryABI = `[
 {"type":"function","name":"isOracleValidator","stateMutability":"view","inputs":[{"name":"validatorAddress","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"validatorIndexPerAddress","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"validators","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[
  {"name":"name","type":"string"},
  {"name":"nodeIndex","type":"uint256"},
  {"name":"nodeIP","type":"string"},
  {"name":"nodePort","type":"string"},
  {"name":"validatorServiceUrl","type":"string"},
  {"name":"revenueShareGlobal","type":"uint256"},
  {"name":"owner","type":"address"},
  {"name":"reputation","type":"uint256"}]}
]`

// Parsed ABIs. Parsing constant JSON cannot fail at runtime.
var (
	CoordinatorABI       = mustParse("coordinator", coordinatorABI)
	OracleValidatorABI   = mustParse("oracle validator", oracleValidatorABI)
	OceanABI             = mustParse("ocean", oceanABI)
	ValidatorElectionABI = mustParse("validator election", validatorElectionABI)
	DappFactoryABI       = mustParse("dapp factory", dappFactoryABI)
)

func mustParse(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse %s abi: %v", name, err))
	}
	return parsed
}
