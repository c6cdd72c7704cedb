package contracts

// RampServiceManagerABI covers the entry points and events the service
// observes and drives. Field names must stay aligned with the deployed
// contract so previously indexed history keeps decoding.
const RampServiceManagerABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"requestOfframp","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[
      {"name":"user","type":"address"},
      {"name":"amount","type":"uint256"},
      {"name":"amountRealWorld","type":"uint256"},
      {"name":"channelAccount","type":"bytes32"},
      {"name":"channelId","type":"bytes32"}
  ]}],"outputs":[]},
  {"type":"function","name":"fillOfframp","stateMutability":"nonpayable","inputs":[
      {"name":"requestOfframpId","type":"bytes32"},
      {"name":"channelId","type":"bytes32"},
      {"name":"transactionId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"acceptOnRamp","stateMutability":"nonpayable","inputs":[
      {"name":"onRampId","type":"bytes32"},
      {"name":"channelId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"submitReceiptId","stateMutability":"nonpayable","inputs":[
      {"name":"onRampId","type":"bytes32"},
      {"name":"receiptId","type":"bytes32"}
  ],"outputs":[]},
  {"type":"function","name":"stake","stateMutability":"nonpayable","inputs":[
      {"name":"amount","type":"uint256"},
      {"name":"provider","type":"address"}
  ],"outputs":[]},

  {"type":"event","name":"RequestOfframp","anonymous":false,"inputs":[
      {"name":"requestOfframpId","type":"bytes32","indexed":false},
      {"name":"user","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false},
      {"name":"amountRealWorld","type":"uint256","indexed":false},
      {"name":"channelAccount","type":"bytes32","indexed":false},
      {"name":"channelId","type":"bytes32","indexed":false}
  ]},
  {"type":"event","name":"FillOfframp","anonymous":false,"inputs":[
      {"name":"requestOfframpId","type":"bytes32","indexed":false},
      {"name":"receiver","type":"address","indexed":false},
      {"name":"proof","type":"bytes","indexed":false},
      {"name":"reclaimProof","type":"bytes","indexed":false}
  ]},
  {"type":"event","name":"NewTaskCreated","anonymous":false,"inputs":[
      {"name":"taskIndex","type":"uint32","indexed":false},
      {"name":"channelId","type":"bytes32","indexed":false},
      {"name":"transactionId","type":"bytes32","indexed":false},
      {"name":"requestOfframpId","type":"bytes32","indexed":false},
      {"name":"receiver","type":"address","indexed":false},
      {"name":"taskCreatedBlock","type":"uint32","indexed":false}
  ]},
  {"type":"event","name":"TaskResponded","anonymous":false,"inputs":[
      {"name":"taskIndex","type":"uint32","indexed":false},
      {"name":"operator","type":"address","indexed":false}
  ]},
  {"type":"event","name":"Mint","anonymous":false,"inputs":[
      {"name":"user","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"Withdraw","anonymous":false,"inputs":[
      {"name":"user","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"OnRampRequested","anonymous":false,"inputs":[
      {"name":"onRampId","type":"bytes32","indexed":false},
      {"name":"buyer","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"OnRampAccepted","anonymous":false,"inputs":[
      {"name":"onRampId","type":"bytes32","indexed":false},
      {"name":"seller","type":"address","indexed":false},
      {"name":"channelId","type":"bytes32","indexed":false}
  ]},
  {"type":"event","name":"ReceiptIdSubmitted","anonymous":false,"inputs":[
      {"name":"onRampId","type":"bytes32","indexed":false},
      {"name":"receiptId","type":"bytes32","indexed":false}
  ]},
  {"type":"event","name":"OnRampCompleted","anonymous":false,"inputs":[
      {"name":"onRampId","type":"bytes32","indexed":false},
      {"name":"buyer","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"StakeSettled","anonymous":false,"inputs":[
      {"name":"user","type":"address","indexed":false},
      {"name":"amount","type":"uint256","indexed":false},
      {"name":"provider","type":"address","indexed":false}
  ]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
      {"name":"from","type":"address","indexed":false},
      {"name":"to","type":"address","indexed":false},
      {"name":"value","type":"uint256","indexed":false}
  ]}
]`

// StablecoinABI is the minimal ERC-20 surface the responder needs.
const StablecoinABI = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
      {"name":"spender","type":"address"},
      {"name":"amount","type":"uint256"}
  ],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[
      {"name":"owner","type":"address"},
      {"name":"spender","type":"address"}
  ],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
      {"name":"account","type":"address"}
  ],"outputs":[{"name":"","type":"uint256"}]}
]`
