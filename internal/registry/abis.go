package registry

// ABI fragments for the vault ledger and the order book. Function signatures,
// argument order and fixed-point scales must match the deployed contracts exactly.
const (
	ERC20ABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	VatABI = `[
		{"name":"urns","type":"function","stateMutability":"view","inputs":[{"name":"","type":"bytes32"},{"name":"","type":"address"}],"outputs":[{"name":"ink","type":"uint256"},{"name":"art","type":"uint256"}]},
		{"name":"ilks","type":"function","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"Art","type":"uint256"},{"name":"rate","type":"uint256"},{"name":"spot","type":"uint256"},{"name":"line","type":"uint256"},{"name":"dust","type":"uint256"}]},
		{"name":"can","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"dai","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"gem","type":"function","stateMutability":"view","inputs":[{"name":"","type":"bytes32"},{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"debt","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"Line","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"hope","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"}],"outputs":[]},
		{"name":"frob","type":"function","stateMutability":"nonpayable","inputs":[{"name":"i","type":"bytes32"},{"name":"u","type":"address"},{"name":"v","type":"address"},{"name":"w","type":"address"},{"name":"dink","type":"int256"},{"name":"dart","type":"int256"}],"outputs":[]}
	]`

	SpotterABI = `[
		{"name":"ilks","type":"function","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"pip","type":"address"},{"name":"mat","type":"uint256"}]},
		{"name":"par","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	GemJoinABI = `[
		{"name":"join","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"amt","type":"uint256"}],"outputs":[]},
		{"name":"exit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"amt","type":"uint256"}],"outputs":[]},
		{"name":"gem","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"dec","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
	]`

	StablecoinJoinABI = `[
		{"name":"join","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"wad","type":"uint256"}],"outputs":[]},
		{"name":"exit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usr","type":"address"},{"name":"wad","type":"uint256"}],"outputs":[]}
	]`

	VaultManagerABI = `[
		{"name":"open","type":"function","stateMutability":"nonpayable","inputs":[{"name":"ilk","type":"bytes32"},{"name":"usr","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"owns","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"ilks","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
		{"name":"count","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"first","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"list","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"prev","type":"uint256"},{"name":"next","type":"uint256"}]},
		{"name":"NewCdp","type":"event","anonymous":false,"inputs":[{"name":"usr","type":"address","indexed":true},{"name":"own","type":"address","indexed":true},{"name":"cdp","type":"uint256","indexed":true}]}
	]`

	OrdersABI = `[
		{"name":"BuyOrderCreated","type":"event","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"orderId","type":"uint256","indexed":true},{"name":"token","type":"address","indexed":false},{"name":"usdcAmount","type":"uint256","indexed":false},{"name":"assetAmount","type":"uint256","indexed":false}]},
		{"name":"SellOrderCreated","type":"event","anonymous":false,"inputs":[{"name":"user","type":"address","indexed":true},{"name":"orderId","type":"uint256","indexed":true},{"name":"token","type":"address","indexed":false},{"name":"usdcAmount","type":"uint256","indexed":false},{"name":"assetAmount","type":"uint256","indexed":false}]}
	]`
)
